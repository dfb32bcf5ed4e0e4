package notify

import (
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"

	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/pricing"
	"ms-fulfillment/internal/utils"
)

const qrSize = 256

// Composer renders milestone messages for one restaurant.
type Composer struct {
	Restaurant string
}

func NewComposer(restaurant string) *Composer {
	return &Composer{Restaurant: restaurant}
}

// Compose renders the message. A QR failure still returns the message,
// without the attachment, alongside the error.
func (c *Composer) Compose(order *models.Order, m models.Milestone, channel models.Channel) (models.Message, error) {
	msg := models.Message{
		Milestone: m,
		Channel:   channel,
		Recipient: order.CustomerEmail,
	}
	if channel == models.ChannelSMS {
		msg.Recipient = order.CustomerPhone
	}
	number := utils.FormatOrderNumber(order.OrderNumber)

	switch m {
	case models.MilestonePaid:
		msg.Subject = fmt.Sprintf("%s: order %s confirmed", c.Restaurant, number)
		if channel == models.ChannelSMS {
			msg.Body = fmt.Sprintf("%s: order %s confirmed, %s paid. We'll text you when it's ready.",
				c.Restaurant, number, pricing.FormatCents(paidAmount(order)))
			return msg, nil
		}
		msg.Body = c.receipt(order)
		qr, err := PickupQR(order)
		if err != nil {
			return msg, fmt.Errorf("pickup qr: %w", err)
		}
		msg.Attachments = append(msg.Attachments, qr)
	case models.MilestoneAccepted:
		msg.Subject = fmt.Sprintf("%s: order %s is being prepared", c.Restaurant, number)
		msg.Body = fmt.Sprintf("%s: the kitchen has started order %s.", c.Restaurant, number)
	case models.MilestoneReady:
		msg.Subject = fmt.Sprintf("%s: order %s is ready", c.Restaurant, number)
		msg.Body = fmt.Sprintf("%s: order %s is ready for pickup.", c.Restaurant, number)
	}
	return msg, nil
}

func (c *Composer) receipt(order *models.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thanks %s, your order %s at %s is confirmed.\n\n",
		order.CustomerName, utils.FormatOrderNumber(order.OrderNumber), c.Restaurant)

	for _, it := range order.Items {
		fmt.Fprintf(&b, "%d x %s  %s\n", it.Quantity, it.Name, pricing.FormatCents(it.LineSubtotal))
		if it.Options != "" {
			fmt.Fprintf(&b, "    %s\n", it.Options)
		}
		if it.Instructions != "" {
			fmt.Fprintf(&b, "    note: %s\n", it.Instructions)
		}
	}

	fmt.Fprintf(&b, "\nSubtotal     %s\n", pricing.FormatCents(order.Subtotal))
	fmt.Fprintf(&b, "Tax          %s\n", pricing.FormatCents(order.Tax))
	fmt.Fprintf(&b, "Service fee  %s\n", pricing.FormatCents(order.ServiceFee))
	if order.Tip > 0 {
		fmt.Fprintf(&b, "Tip          %s\n", pricing.FormatCents(order.Tip))
	}
	fmt.Fprintf(&b, "Total paid   %s\n\n", pricing.FormatCents(paidAmount(order)))

	if order.PickupMode == models.PickupScheduled && order.PickupScheduledAt != nil {
		fmt.Fprintf(&b, "Pickup at %s.\n", order.PickupScheduledAt.Format("Mon Jan 2 3:04 PM"))
	} else {
		b.WriteString("Pickup as soon as it's ready.\n")
	}
	b.WriteString("Show the attached code at the counter.\n")
	return b.String()
}

// paidAmount prefers the captured amount reported by the provider.
func paidAmount(order *models.Order) int64 {
	if order.AmountCaptured > 0 {
		return order.AmountCaptured
	}
	return order.BaseAmount() + order.Tip
}

// PickupQR renders the counter pickup code as a PNG.
func PickupQR(order *models.Order) (models.Attachment, error) {
	content := fmt.Sprintf("PICKUP:%s:%s", utils.FormatOrderNumber(order.OrderNumber), order.OrderID)
	png, err := qrcode.Encode(content, qrcode.Medium, qrSize)
	if err != nil {
		return models.Attachment{}, err
	}
	return models.Attachment{
		Filename:    fmt.Sprintf("pickup-%d.png", order.OrderNumber),
		ContentType: "image/png",
		Data:        png,
	}, nil
}
