package evidence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yukioka/tsuzuki/pkg/memory"
)

// LocalSource surfaces the session's own promoted memory records as
// evidence. Scoped per gather call via WithSession.
type LocalSource struct {
	sync      *memory.Synchronizer
	sessionID string
}

func NewLocalSource(sync *memory.Synchronizer) *LocalSource {
	if sync == nil {
		return nil
	}
	return &LocalSource{sync: sync}
}

// WithSession returns a copy bound to one session. The aggregator holds the
// unbound source; the controller binds it per request.
func (s *LocalSource) WithSession(sessionID string) *LocalSource {
	return &LocalSource{sync: s.sync, sessionID: sessionID}
}

func (s *LocalSource) Kind() SourceKind { return KindLocal }

func (s *LocalSource) ID() string { return "local:memory" }

func (s *LocalSource) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	if s.sessionID == "" {
		return nil, nil
	}
	records, err := s.sync.SearchRecords(ctx, s.sessionID, query, limit)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	out := make([]Item, 0, len(records))
	for _, rec := range records {
		out = append(out, Item{
			ID:            "evd-" + uuid.NewString(),
			Kind:          KindLocal,
			SourceID:      s.ID(),
			Title:         "Remembered: " + string(rec.Kind),
			Excerpt:       rec.Content,
			Reliability:   reliabilityFor(KindLocal, ""),
			RetrievedAtMS: now,
		})
	}
	return out, nil
}
