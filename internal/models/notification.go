package models

import "time"

type Milestone string

const (
	MilestonePaid     Milestone = "paid"
	MilestoneAccepted Milestone = "accepted"
	MilestoneReady    Milestone = "ready"
)

func ParseMilestone(s string) (Milestone, bool) {
	switch Milestone(s) {
	case MilestonePaid, MilestoneAccepted, MilestoneReady:
		return Milestone(s), true
	}
	return "", false
}

// ClaimColumn is the orders column holding the claim timestamp for m.
func (m Milestone) ClaimColumn() string {
	switch m {
	case MilestonePaid:
		return "paid_notified_at"
	case MilestoneAccepted:
		return "accepted_notified_at"
	case MilestoneReady:
		return "ready_notified_at"
	}
	return ""
}

// ClaimedAt returns the order's claim timestamp for m.
func (o *Order) ClaimedAt(m Milestone) *time.Time {
	switch m {
	case MilestonePaid:
		return o.PaidNotifiedAt
	case MilestoneAccepted:
		return o.AcceptedNotifiedAt
	case MilestoneReady:
		return o.ReadyNotifiedAt
	}
	return nil
}

// Reached reports whether the order has gotten to m. Kitchen milestones
// follow order_status alone, so pay-at-pickup orders reach them unpaid.
func (o *Order) Reached(m Milestone) bool {
	switch m {
	case MilestonePaid:
		return o.PaymentStatus == PaymentStatusPaid
	case MilestoneAccepted:
		return o.OrderStatus == OrderStatusAccepted || o.OrderStatus == OrderStatusReady
	case MilestoneReady:
		return o.OrderStatus == OrderStatusReady
	}
	return false
}

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a rendered notification handed to a sender.
type Message struct {
	Milestone   Milestone
	Channel     Channel
	Recipient   string
	Subject     string
	Body        string
	Attachments []Attachment
}

type NotifyResult string

const (
	NotifySent               NotifyResult = "sent"
	NotifySkippedAlreadySent NotifyResult = "skipped_already_sent"
	NotifySkippedNoRecipient NotifyResult = "skipped_no_recipient"
	NotifySkippedNotReached  NotifyResult = "skipped_not_reached"
)
