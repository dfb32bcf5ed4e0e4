package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
)

// Availability is the 86-list: a Redis set of menu item ids or item names
// that cannot be ordered right now. Every member goes through normalize.
type Availability struct {
	Client *redis.Client
	Key    string
	Logger *logger.Logger
}

func NewAvailability(client *redis.Client, key string, log *logger.Logger) *Availability {
	return &Availability{Client: client, Key: key, Logger: log}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// UnavailableItems returns the names of lines whose menu item id or name is
// on the 86-list.
func (a *Availability) UnavailableItems(ctx context.Context, items []models.OrderItemRequest) ([]string, error) {
	members, err := a.Client.SMembers(ctx, a.Key).Result()
	if err != nil {
		return nil, fmt.Errorf("read unavailable set: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	out := make(map[string]bool, len(members))
	for _, m := range members {
		out[m] = true
	}

	var names []string
	seen := map[string]bool{}
	for _, it := range items {
		hit := out[normalize(it.Name)] || (it.MenuItemID != "" && out[normalize(it.MenuItemID)])
		if hit && !seen[it.Name] {
			seen[it.Name] = true
			names = append(names, it.Name)
		}
	}
	return names, nil
}

func (a *Availability) List(ctx context.Context) ([]string, error) {
	return a.Client.SMembers(ctx, a.Key).Result()
}

func (a *Availability) MarkUnavailable(ctx context.Context, itemID string) error {
	if err := a.Client.SAdd(ctx, a.Key, normalize(itemID)).Err(); err != nil {
		return err
	}
	a.Logger.Info("REDIS", fmt.Sprintf("Item %s marked unavailable", itemID))
	return nil
}

func (a *Availability) MarkAvailable(ctx context.Context, itemID string) error {
	if err := a.Client.SRem(ctx, a.Key, normalize(itemID)).Err(); err != nil {
		return err
	}
	a.Logger.Info("REDIS", fmt.Sprintf("Item %s available again", itemID))
	return nil
}
