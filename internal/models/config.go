package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Config maps to the `configs` table and to one entry of configs.json.
// A config is a single sellable unit; selling it removes it from the catalog.
type Config struct {
	ID       int    `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	Volume   string `gorm:"column:volume;size:200" json:"volume"`
	Duration string `gorm:"column:duration;size:200" json:"duration"`
	Price    int64  `gorm:"column:price" json:"price"`
	Link     string `gorm:"column:link;type:text" json:"link"`
	Position int    `gorm:"column:position" json:"-"`
}

func (Config) TableName() string {
	return "configs"
}

// Label is the grouping key shown on buyer menus.
func (c Config) Label() string {
	return c.Volume + " - " + c.Duration
}

// UnmarshalJSON accepts both the current field names and the legacy
// Persian keys written by older deployments of the bot.
func (c *Config) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID             flexInt `json:"id"`
		Volume         string  `json:"volume"`
		Duration       string  `json:"duration"`
		Price          flexInt `json:"price"`
		Link           string  `json:"link"`
		LegacyVolume   string  `json:"حجم"`
		LegacyDuration string  `json:"مدت"`
		LegacyPrice    flexInt `json:"قیمت"`
		LegacyLink     string  `json:"لینک"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.ID = int(raw.ID)
	c.Volume = firstNonEmpty(raw.Volume, raw.LegacyVolume)
	c.Duration = firstNonEmpty(raw.Duration, raw.LegacyDuration)
	c.Link = firstNonEmpty(raw.Link, raw.LegacyLink)
	c.Price = int64(raw.Price)
	if c.Price == 0 {
		c.Price = int64(raw.LegacyPrice)
	}
	return nil
}

// flexInt decodes a JSON number or a digit string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q", s)
	}
	*f = flexInt(v)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
