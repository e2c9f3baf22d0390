package fetch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/livewatch/types"
)

type fetchBody struct {
	Result []*resultEntry `json:"result"`
}

type resultEntry struct {
	ID      string `json:"id"`
	Listing struct {
		Token   string `json:"token"`
		Account struct {
			Name string `json:"name"`
		} `json:"account"`
		Price *types.Price `json:"price"`
	} `json:"listing"`
	Item struct {
		Name     string `json:"name"`
		TypeLine string `json:"typeLine"`
	} `json:"item"`
}

// Decode parses a fetch body into records for key. Null entries are
// skipped and entries without a token are dropped. Entries without an id
// get a generated one so they stay addressable in the queue.
func Decode(body []byte, key types.ListenerKey, now time.Time) ([]types.ResultRecord, error) {
	var parsed fetchBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode fetch body: %w", err)
	}

	records := make([]types.ResultRecord, 0, len(parsed.Result))
	for _, entry := range parsed.Result {
		if entry == nil || entry.Listing.Token == "" {
			continue
		}
		id := entry.ID
		if id == "" {
			id = uuid.NewString()
		}
		rec := types.ResultRecord{
			ID:        id,
			Listener:  key,
			ItemName:  entry.Item.Name,
			TypeLine:  entry.Item.TypeLine,
			Seller:    entry.Listing.Account.Name,
			ArrivedAt: now,
		}
		if entry.Listing.Price != nil {
			rec.Price = *entry.Listing.Price
		}
		records = append(records, rec.WithToken(entry.Listing.Token))
	}
	return records, nil
}
