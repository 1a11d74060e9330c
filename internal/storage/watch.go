package storage

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Watch polls collection and sends its children every time the set of
// documents or any of their versions changes. The first listing is always
// sent. The channel is closed when ctx is done.
func Watch(ctx context.Context, s Store, collection string, interval time.Duration) <-chan []Snapshot {
	if interval <= 0 {
		interval = time.Second
	}
	out := make(chan []Snapshot, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last string
		first := true
		for {
			snaps, err := s.List(ctx, collection)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.WarnContext(ctx, "Watch list failed", "collection", collection, "error", err)
			} else if fp := fingerprint(snaps); first || fp != last {
				first = false
				last = fp
				select {
				case out <- snaps:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

func fingerprint(snaps []Snapshot) string {
	b := make([]byte, 0, len(snaps)*48)
	for _, s := range snaps {
		b = append(b, s.Path...)
		b = append(b, '@')
		b = strconv.AppendInt(b, s.Version, 10)
		b = append(b, ';')
	}
	return string(b)
}
