package repository

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"vpnshop/internal/models"
)

func encodeConfigs(configs []models.Config) ([]byte, error) {
	if configs == nil {
		configs = []models.Config{}
	}
	return json.MarshalIndent(configs, "", "  ")
}

func decodeConfigs(data []byte) ([]models.Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var configs []models.Config
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("decode configs: %w", err)
	}
	return configs, nil
}

// encodeOrders writes the ledger as an object keyed by order id.
func encodeOrders(orders []models.Order) ([]byte, error) {
	byID := make(map[string]models.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	return json.MarshalIndent(byID, "", "  ")
}

func decodeOrders(data []byte) ([]models.Order, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var byID map[string]json.RawMessage
	if err := json.Unmarshal(data, &byID); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}

	orders := make([]models.Order, 0, len(byID))
	for id, raw := range byID {
		var o models.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", id, err)
		}
		if o.GroupMessageID == 0 {
			var alias struct {
				GroupMessageID int `json:"group_message_id"`
			}
			if err := json.Unmarshal(raw, &alias); err == nil {
				o.GroupMessageID = alias.GroupMessageID
			}
		}
		if o.ID == "" {
			o.ID = id
		}
		if o.Status == "" {
			o.Status = models.OrderStatusPending
		}
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
	return orders, nil
}

func encodeIDs(ids []int64) []byte {
	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString(strconv.FormatInt(id, 10))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// decodeIDs reads one id per line. Blank lines are ignored; malformed
// lines are returned separately so callers can log them.
func decodeIDs(data []byte) ([]int64, []string) {
	var ids []int64
	var bad []string
	seen := make(map[int64]struct{})

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			bad = append(bad, line)
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, bad
}

func exportAll(s Store) (map[string][]byte, error) {
	configs, err := s.LoadConfigs()
	if err != nil {
		return nil, err
	}
	orders, err := s.LoadOrders()
	if err != nil {
		return nil, err
	}
	users, err := s.LoadUsers()
	if err != nil {
		return nil, err
	}
	blacklist, err := s.LoadBlacklist()
	if err != nil {
		return nil, err
	}

	configsRaw, err := encodeConfigs(configs)
	if err != nil {
		return nil, err
	}
	ordersRaw, err := encodeOrders(orders)
	if err != nil {
		return nil, err
	}
	return map[string][]byte{
		ConfigsFile:   configsRaw,
		OrdersFile:    ordersRaw,
		UsersFile:     encodeIDs(users),
		BlacklistFile: encodeIDs(blacklist),
	}, nil
}
