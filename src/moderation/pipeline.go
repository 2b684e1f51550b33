package moderation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// State is a step of a single moderation request.
type State string

const (
	StateReceived      State = "RECEIVED"
	StateGuildResolved State = "GUILD_RESOLVED"
	StateAdmitted      State = "ADMITTED"
	StateQuotaDenied   State = "QUOTA_DENIED"
	StateClassified    State = "CLASSIFIED"
	StatePersisted     State = "PERSISTED"
	StateResponded     State = "RESPONDED"
)

// Request is a message submitted for moderation.
type Request struct {
	Text       string
	MessageID  string
	AuthorID   string
	AuthorName string
	GuildID    string
}

// Result is what the caller gets back.
type Result struct {
	Results []LabelScore
	// Replay is set when the same message had already been recorded by an
	// earlier request. Replays are not charged.
	Replay bool
	Handle *Handle
}

// Deps are the collaborators of a Pipeline. Publisher is optional.
type Deps struct {
	Ledger     *Ledger
	Classifier Classifier
	Store      RecordStore
	Publisher  Publisher
	Logger     *zap.Logger
}

// Pipeline runs admission, inference and persistence for moderation requests.
// It is safe for concurrent use.
type Pipeline struct {
	ledger     *Ledger
	classifier Classifier
	store      RecordStore
	publisher  Publisher
	logger     *zap.Logger
}

// NewPipeline wires a pipeline from its dependencies.
func NewPipeline(d Deps) *Pipeline {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		ledger:     d.Ledger,
		classifier: d.Classifier,
		store:      d.Store,
		publisher:  d.Publisher,
		logger:     logger.With(zap.String("component", "moderation")),
	}
}

// Moderate admits, classifies and records req. Steps run strictly in order:
// no inference happens before admission and no record is written before
// inference succeeds.
func (p *Pipeline) Moderate(ctx context.Context, req Request) (*Result, error) {
	log := p.logger.With(
		zap.String("guildID", req.GuildID),
		zap.String("messageID", req.MessageID),
	)
	log.Debug("Moderation request", zap.String("state", string(StateReceived)))

	adm, err := p.ledger.Admit(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}
	log.Debug("Guild resolved",
		zap.String("state", string(StateGuildResolved)),
		zap.String("ownerID", adm.Scope.OwnerID),
		zap.Int64("used", adm.Used),
		zap.Int64("limit", adm.Limit))

	if !adm.Allow {
		log.Info("Quota denied",
			zap.String("state", string(StateQuotaDenied)),
			zap.Int64("used", adm.Used),
			zap.Int64("limit", adm.Limit))
		return nil, &QuotaError{Limit: adm.Limit, Used: adm.Used}
	}

	rec := Record{
		MessageID:   req.MessageID,
		GuildID:     req.GuildID,
		AuthorID:    req.AuthorID,
		AuthorName:  req.AuthorName,
		Fingerprint: Fingerprint(req.Text),
	}

	// A resend of a recorded message is answered again but not charged.
	prior, err := p.store.Find(ctx, req.MessageID)
	if err != nil {
		return nil, fmt.Errorf("look up message: %w", err)
	}
	replay := prior != nil
	if replay && !prior.SameMessage(rec) {
		log.Warn("Message id reused for a different message", zap.String("priorGuildID", prior.GuildID))
		return nil, fmt.Errorf("message %s: %w", req.MessageID, ErrMessageConflict)
	}
	log.Debug("Admitted", zap.String("state", string(StateAdmitted)), zap.Bool("replay", replay))

	scores, err := p.classifier.Classify(ctx, req.Text)
	if err != nil {
		if !errors.Is(err, ErrClassifierUnavailable) {
			err = fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
		}
		return nil, err
	}
	verdict := Aggregate(scores)
	log.Debug("Classified",
		zap.String("state", string(StateClassified)),
		zap.Float64("violationScore", verdict.ViolationScore))

	result := &Result{Results: verdict.Ranked, Replay: replay}
	if replay {
		log.Debug("Responded", zap.String("state", string(StateResponded)))
		return result, nil
	}

	rec.Score = verdict.ViolationScore
	handle, err := p.store.Record(ctx, rec, adm.Scope)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			log.Info("Quota denied at commit", zap.String("state", string(StateQuotaDenied)))
		}
		return nil, err
	}
	result.Handle = handle
	result.Replay = handle.Duplicate
	log.Debug("Persisted",
		zap.String("state", string(StatePersisted)),
		zap.Uint64("recordID", handle.ID),
		zap.Bool("duplicate", handle.Duplicate))

	if p.publisher != nil && !handle.Duplicate {
		ev := Event{
			MessageID:      req.MessageID,
			GuildID:        req.GuildID,
			AuthorID:       req.AuthorID,
			ViolationScore: verdict.ViolationScore,
			CreatedAt:      handle.CreatedAt,
		}
		if len(verdict.Ranked) > 0 {
			ev.TopLabel = verdict.Ranked[0].Label
		}
		if err := p.publisher.Publish(ctx, ev); err != nil {
			log.Warn("Failed to publish moderation event", zap.Error(err))
		}
	}

	log.Debug("Responded", zap.String("state", string(StateResponded)))
	return result, nil
}
