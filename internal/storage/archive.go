package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"time"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// WebhookArchive keeps raw webhook bodies under provider/date/event-id.json.
// Redeliveries overwrite the same object.
type WebhookArchive struct {
	store Storage
	now   func() time.Time
}

func NewWebhookArchive(s Storage) *WebhookArchive {
	return &WebhookArchive{store: s, now: time.Now}
}

func (a *WebhookArchive) Archive(ctx context.Context, provider, eventID string, body []byte) (string, error) {
	if eventID == "" {
		return "", fmt.Errorf("archive: empty event id")
	}
	key := path.Join(
		"webhooks",
		unsafeKeyChars.ReplaceAllString(provider, "_"),
		a.now().UTC().Format("2006/01/02"),
		unsafeKeyChars.ReplaceAllString(eventID, "_")+".json",
	)
	res, err := a.store.Put(ctx, bytes.NewReader(body), PutInput{
		Key:         key,
		ContentType: "application/json",
		Size:        int64(len(body)),
	})
	if err != nil {
		return "", err
	}
	return res.Key, nil
}
