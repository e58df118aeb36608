// Package processor handles ledger events: it resolves raw billing
// identifiers to customer entities and triggers the recompute job when an
// import batch lands.
package processor

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/audit"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/kafka"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/recompute"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

type IdentifierAuditor interface {
	AuditBatch(ctx context.Context, raws []string) ([]models.AuditFinding, error)
}

type ConflictPublisher interface {
	PublishAliasConflicts(ctx context.Context, findings []models.AuditFinding) error
}

type Recomputer interface {
	Run(ctx context.Context, trigger models.ImportCompleted) (*recompute.Result, error)
}

// Processor dispatches ledger topic messages by type
type Processor struct {
	logger    ectologger.Logger
	validate  *validator.Validate
	auditor   IdentifierAuditor
	resolver  *Resolver
	publisher ConflictPublisher
	job       Recomputer
}

func NewProcessor(logger ectologger.Logger, auditor IdentifierAuditor, resolver *Resolver, publisher ConflictPublisher, job Recomputer) *Processor {
	return &Processor{
		logger:    logger,
		validate:  validator.New(),
		auditor:   auditor,
		resolver:  resolver,
		publisher: publisher,
		job:       job,
	}
}

// ProcessMessage satisfies kafka.MessageHandler. Returning an error leaves the
// message for redelivery; permanent errors are dead-lettered by the consumer.
func (p *Processor) ProcessMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.ProcessMessage")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"key":    msg.Key,
		"topic":  msg.Topic,
		"offset": msg.Offset,
	})

	if msg.Envelope == nil {
		if err := msg.ParseEnvelope(); err != nil {
			log.WithError(err).Error("Failed to parse message envelope")
			return err
		}
	}

	var err error
	switch msg.Type() {
	case kafka.TypeIdentifierResolve:
		err = p.handleIdentifierResolve(ctx, msg, log)
	case kafka.TypeImportCompleted:
		err = p.handleImportCompleted(ctx, msg, log)
	default:
		log.WithField("type", msg.Type()).Warn("Unknown message type, skipping")
		return nil
	}
	if err != nil {
		tracing.RecordError(span, err)
	}
	return err
}

func (p *Processor) handleIdentifierResolve(ctx context.Context, msg *kafka.IncomingMessage, log ectologger.Logger) error {
	var req kafka.IdentifierResolve
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if err := p.validate.Struct(req); err != nil {
		return kafka.Permanent(fmt.Errorf("invalid %s payload: %w", kafka.TypeIdentifierResolve, err))
	}

	resolutions, err := p.Resolve(ctx, req.RawIdentifiers)
	if err != nil {
		log.WithError(err).Error("Failed to resolve identifiers")
		return err
	}

	counts := map[ResolvedVia]int{}
	for _, r := range resolutions {
		counts[r.Via]++
	}
	log.WithFields(map[string]any{
		"identifiers": len(resolutions),
		"created":     counts[ViaCreated],
		"unresolved":  counts[ViaUnresolved],
	}).Info("Resolved identifiers")
	return nil
}

// Resolve audits raws, settles each on a customer entity and publishes any
// alias conflicts found along the way. The result is in input order.
func (p *Processor) Resolve(ctx context.Context, raws []string) ([]Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Resolve")
	defer span.End()

	findings, err := p.auditor.AuditBatch(ctx, raws)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	resolutions := make([]Resolution, 0, len(findings))
	for _, f := range findings {
		r, err := p.resolver.Resolve(ctx, f)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		resolutions = append(resolutions, r)
	}

	if conflicts := audit.OnlyConflicts(findings); len(conflicts) > 0 && p.publisher != nil {
		if err := p.publisher.PublishAliasConflicts(ctx, conflicts); err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
	}
	return resolutions, nil
}

func (p *Processor) handleImportCompleted(ctx context.Context, msg *kafka.IncomingMessage, log ectologger.Logger) error {
	var trigger models.ImportCompleted
	if err := msg.Decode(&trigger); err != nil {
		return err
	}
	if err := p.validate.Struct(trigger); err != nil {
		return kafka.Permanent(fmt.Errorf("invalid %s payload: %w", kafka.TypeImportCompleted, err))
	}

	log = log.WithFields(map[string]any{
		"import_batch_id": trigger.ImportBatchID,
		"as_of":           trigger.CompletedAt,
	})

	// ErrRunInProgress is retried like any transient failure; once the
	// running job releases the lock this batch gets its own run.
	result, err := p.job.Run(ctx, trigger)
	if err != nil {
		log.WithError(err).Warn("Recompute did not run")
		return err
	}
	if len(result.Failures) > 0 {
		log.WithFields(map[string]any{
			"run_id":   result.Run.ID,
			"failures": len(result.Failures),
		}).Warn("Recompute finished with failures, next import or retry will redo it")
	}
	return nil
}
