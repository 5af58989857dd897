package store

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/smart-developer1791/twitter-exporter/internal/catalogue"
)

// Validation errors for tweets inserted into the memory store.
var (
	ErrEmptyUser      = errors.New("tweet user cannot be empty")
	ErrNegativeCounts = errors.New("retweets and likes cannot be negative")
)

// Tweet is one row of the tweets table.
type Tweet struct {
	ID       string    `json:"id"`
	User     string    `json:"user"`
	Text     string    `json:"text"`
	Retweets int64     `json:"retweets"`
	Likes    int64     `json:"likes"`
	Date     time.Time `json:"date"`
}

// Validate checks the tweet before it enters a table.
func (t *Tweet) Validate() error {
	if t.User == "" {
		return ErrEmptyUser
	}
	if t.Retweets < 0 || t.Likes < 0 {
		return ErrNegativeCounts
	}
	return nil
}

// NewTweet returns a tweet with a fresh UUID, dated in UTC.
func NewTweet(user, text string, retweets, likes int64, date time.Time) *Tweet {
	return &Tweet{
		ID:       uuid.New().String(),
		User:     user,
		Text:     text,
		Retweets: retweets,
		Likes:    likes,
		Date:     date.UTC(),
	}
}

// Int returns the integer value of field f. The user field has no integer
// value and yields false.
func (t *Tweet) Int(f catalogue.Field) (int64, bool) {
	switch f {
	case catalogue.FieldRetweets:
		return t.Retweets, true
	case catalogue.FieldLikes:
		return t.Likes, true
	case catalogue.FieldTextLength:
		return int64(utf8.RuneCountInString(t.Text)), true
	case catalogue.FieldEngagement:
		return t.Retweets + t.Likes, true
	case catalogue.FieldDate:
		return t.Date.Unix(), true
	case catalogue.FieldSecondOfDay:
		return t.Date.Unix() % 86400, true
	default:
		return 0, false
	}
}

// Key returns the value of f as a grouping or distinct-count key.
func (t *Tweet) Key(f catalogue.Field) interface{} {
	if f == catalogue.FieldUser {
		return t.User
	}
	v, _ := t.Int(f)
	return v
}
