package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/kafka"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/recompute"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func strPtr(s string) *string { return &s }

type fakeAuditor struct {
	findings map[string]models.AuditFinding
}

func (f *fakeAuditor) AuditBatch(_ context.Context, raws []string) ([]models.AuditFinding, error) {
	out := make([]models.AuditFinding, 0, len(raws))
	for _, raw := range raws {
		finding, ok := f.findings[raw]
		if !ok {
			finding = models.AuditFinding{RawIdentifier: raw, Parsed: models.ParsedHierarchy{Customer: raw, NormalizedName: raw}}
		}
		out = append(out, finding)
	}
	return out, nil
}

type fakeAliases struct {
	byName   map[string]string
	agencies map[string]string
}

func (f *fakeAliases) FindActiveByName(_ context.Context, t models.EntityType, name string) (*models.EntityAlias, error) {
	names := f.byName
	if t == models.EntityTypeAgency {
		names = f.agencies
	}
	target, ok := names[name]
	if !ok {
		return nil, nil
	}
	return &models.EntityAlias{ID: "alias-" + name, AliasName: name, TargetEntityID: target, IsActive: true}, nil
}

type fakeEntities struct {
	byName   map[string]*models.Entity
	agencies map[string]*models.Entity
	created  []string
	err      error
}

func (f *fakeEntities) table(t models.EntityType) map[string]*models.Entity {
	if t == models.EntityTypeAgency {
		return f.agencies
	}
	return f.byName
}

func (f *fakeEntities) FindActiveByNormalizedName(_ context.Context, t models.EntityType, name string) (*models.Entity, error) {
	e, ok := f.table(t)[name]
	if !ok || !e.IsActive {
		return nil, nil
	}
	return e, nil
}

func (f *fakeEntities) CreateIfAbsent(_ context.Context, t models.EntityType, name, normalized string) (*models.Entity, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if e, ok := f.table(t)[normalized]; ok {
		return e, false, nil
	}
	e := &models.Entity{ID: "new-" + string(t) + "-" + normalized, EntityType: t, Name: name, NormalizedName: normalized, IsActive: true}
	f.table(t)[normalized] = e
	f.created = append(f.created, normalized)
	return e, true, nil
}

type fakePublisher struct {
	published []models.AuditFinding
}

func (f *fakePublisher) PublishAliasConflicts(_ context.Context, findings []models.AuditFinding) error {
	f.published = append(f.published, findings...)
	return nil
}

type fakeJob struct {
	triggers []models.ImportCompleted
	err      error
	failures []recompute.Failure
}

func (f *fakeJob) Run(_ context.Context, trigger models.ImportCompleted) (*recompute.Result, error) {
	f.triggers = append(f.triggers, trigger)
	if f.err != nil {
		return nil, f.err
	}
	return &recompute.Result{Run: models.RecomputeRun{ID: "run-1"}, Failures: f.failures}, nil
}

type harness struct {
	auditor   *fakeAuditor
	aliases   *fakeAliases
	entities  *fakeEntities
	publisher *fakePublisher
	job       *fakeJob
	processor *Processor
}

func newHarness() *harness {
	h := &harness{
		auditor:   &fakeAuditor{findings: map[string]models.AuditFinding{}},
		aliases:   &fakeAliases{byName: map[string]string{}, agencies: map[string]string{}},
		entities:  &fakeEntities{byName: map[string]*models.Entity{}, agencies: map[string]*models.Entity{}},
		publisher: &fakePublisher{},
		job:       &fakeJob{},
	}
	resolver := NewResolver(h.aliases, h.entities, testLogger())
	h.processor = NewProcessor(testLogger(), h.auditor, resolver, h.publisher, h.job)
	return h
}

func message(t *testing.T, msgType kafka.MessageType, payload any) *kafka.IncomingMessage {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	value, err := json.Marshal(kafka.Envelope{Type: msgType, ID: "msg-1", OccurredAt: time.Now(), Payload: body})
	require.NoError(t, err)
	return &kafka.IncomingMessage{Key: "k", Topic: "ledger-events", Value: value, Headers: map[string]string{}}
}

func TestResolver_Order(t *testing.T) {
	tests := []struct {
		name    string
		finding models.AuditFinding
		setup   func(h *harness)
		wantID  string
		wantVia ResolvedVia
	}{
		{
			name: "raw alias wins over entity match",
			finding: models.AuditFinding{
				RawIdentifier:     "Mc'Donald's",
				Parsed:            models.ParsedHierarchy{Customer: "McDonald's", NormalizedName: "McDonald's"},
				ExistsInCustomers: true,
				MatchedEntityID:   strPtr("ent-b"),
				HasAlias:          true,
				AliasTargetID:     strPtr("ent-a"),
				AliasConflict:     true,
			},
			wantID:  "ent-a",
			wantVia: ViaRawAlias,
		},
		{
			name: "alias on the normalized name",
			finding: models.AuditFinding{
				RawIdentifier: "WorldLink:Tyler PROD",
				Parsed:        models.ParsedHierarchy{Agency1: strPtr("WorldLink"), Customer: "Tyler", NormalizedName: "WorldLink:Tyler"},
			},
			setup:   func(h *harness) { h.aliases.byName["WorldLink:Tyler"] = "ent-tyler" },
			wantID:  "ent-tyler",
			wantVia: ViaNormalizedAlias,
		},
		{
			name: "existing entity",
			finding: models.AuditFinding{
				RawIdentifier:     "Acme",
				Parsed:            models.ParsedHierarchy{Customer: "Acme", NormalizedName: "Acme"},
				ExistsInCustomers: true,
				MatchedEntityID:   strPtr("ent-acme"),
			},
			wantID:  "ent-acme",
			wantVia: ViaEntity,
		},
		{
			name: "creates a customer",
			finding: models.AuditFinding{
				RawIdentifier: "Agency:Brand New PRODUCTION",
				Parsed:        models.ParsedHierarchy{Agency1: strPtr("Agency"), Customer: "Brand New", NormalizedName: "Agency:Brand New"},
			},
			wantID:  "new-customer-Agency:Brand New",
			wantVia: ViaCreated,
		},
		{
			name: "inactive entity leaves it unresolved",
			finding: models.AuditFinding{
				RawIdentifier: "Gone",
				Parsed:        models.ParsedHierarchy{Customer: "Gone", NormalizedName: "Gone"},
			},
			setup: func(h *harness) {
				h.entities.byName["Gone"] = &models.Entity{ID: "ent-gone", NormalizedName: "Gone", IsActive: false}
			},
			wantVia: ViaUnresolved,
		},
		{
			name:    "blank identifier",
			finding: models.AuditFinding{RawIdentifier: "  "},
			wantVia: ViaUnresolved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			if tt.setup != nil {
				tt.setup(h)
			}

			res, err := h.processor.resolver.Resolve(context.Background(), tt.finding)
			require.NoError(t, err)

			assert.Equal(t, tt.wantID, res.EntityID)
			assert.Equal(t, tt.wantVia, res.Via)
			assert.Equal(t, tt.finding.AliasConflict, res.Finding.AliasConflict)
		})
	}
}

func TestResolver_CreateIfAbsentError(t *testing.T) {
	h := newHarness()
	h.entities.err = errors.New("db down")

	_, err := h.processor.resolver.Resolve(context.Background(), models.AuditFinding{
		RawIdentifier: "X",
		Parsed:        models.ParsedHierarchy{Customer: "X", NormalizedName: "X"},
	})

	assert.Error(t, err)
}

func TestResolver_Agency(t *testing.T) {
	finding := models.AuditFinding{
		RawIdentifier: "WorldLink:Tyler PROD",
		Parsed:        models.ParsedHierarchy{Agency1: strPtr("WorldLink"), Customer: "Tyler", NormalizedName: "WorldLink:Tyler"},
	}

	tests := []struct {
		name    string
		setup   func(h *harness)
		wantID  string
		wantVia ResolvedVia
	}{
		{
			name:    "creates the agency",
			wantID:  "new-agency-WorldLink",
			wantVia: ViaCreated,
		},
		{
			name: "existing agency",
			setup: func(h *harness) {
				h.entities.agencies["WorldLink"] = &models.Entity{ID: "ent-wl", EntityType: models.EntityTypeAgency, IsActive: true}
			},
			wantID:  "ent-wl",
			wantVia: ViaEntity,
		},
		{
			name:    "agency alias",
			setup:   func(h *harness) { h.aliases.agencies["WorldLink"] = "ent-worldlink-media" },
			wantID:  "ent-worldlink-media",
			wantVia: ViaNormalizedAlias,
		},
		{
			name: "inactive agency",
			setup: func(h *harness) {
				h.entities.agencies["WorldLink"] = &models.Entity{ID: "ent-wl", EntityType: models.EntityTypeAgency, IsActive: false}
			},
			wantVia: ViaUnresolved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			if tt.setup != nil {
				tt.setup(h)
			}

			res, err := h.processor.resolver.Resolve(context.Background(), finding)
			require.NoError(t, err)

			assert.Equal(t, tt.wantID, res.AgencyID)
			assert.Equal(t, tt.wantVia, res.AgencyVia)
			// the customer side resolves regardless of the agency outcome
			assert.Equal(t, "new-customer-WorldLink:Tyler", res.EntityID)
		})
	}
}

func TestResolver_NoAgencySegment(t *testing.T) {
	h := newHarness()

	res, err := h.processor.resolver.Resolve(context.Background(), models.AuditFinding{
		RawIdentifier: "Acme",
		Parsed:        models.ParsedHierarchy{Customer: "Acme", NormalizedName: "Acme"},
	})
	require.NoError(t, err)

	assert.Empty(t, res.AgencyID)
	assert.Empty(t, res.AgencyVia)
	assert.Empty(t, h.entities.agencies)
}

func TestProcessMessage_IdentifierResolve(t *testing.T) {
	h := newHarness()
	h.auditor.findings["Mc'Donald's"] = models.AuditFinding{
		RawIdentifier:     "Mc'Donald's",
		Parsed:            models.ParsedHierarchy{Customer: "McDonald's", NormalizedName: "McDonald's"},
		ExistsInCustomers: true,
		MatchedEntityID:   strPtr("ent-b"),
		HasAlias:          true,
		AliasTargetID:     strPtr("ent-a"),
		AliasConflict:     true,
	}

	msg := message(t, kafka.TypeIdentifierResolve, kafka.IdentifierResolve{RawIdentifiers: []string{"Mc'Donald's", "Fresh Co"}})
	require.NoError(t, h.processor.ProcessMessage(context.Background(), msg))

	assert.Equal(t, []string{"Fresh Co"}, h.entities.created)
	require.Len(t, h.publisher.published, 1)
	assert.Equal(t, "Mc'Donald's", h.publisher.published[0].RawIdentifier)

	// redelivery finds the entity created the first time
	require.NoError(t, h.processor.ProcessMessage(context.Background(), msg))
	assert.Equal(t, []string{"Fresh Co"}, h.entities.created)
}

func TestProcessMessage_InvalidPayloadIsPermanent(t *testing.T) {
	h := newHarness()

	err := h.processor.ProcessMessage(context.Background(), message(t, kafka.TypeIdentifierResolve, kafka.IdentifierResolve{}))

	assert.True(t, kafka.IsPermanent(err))
	assert.Empty(t, h.entities.created)
}

func TestProcessMessage_ImportCompleted(t *testing.T) {
	h := newHarness()
	completed := time.Date(2025, 6, 30, 6, 0, 0, 0, time.UTC)

	msg := message(t, kafka.TypeImportCompleted, models.ImportCompleted{ImportBatchID: "batch-7", CompletedAt: completed})
	require.NoError(t, h.processor.ProcessMessage(context.Background(), msg))

	require.Len(t, h.job.triggers, 1)
	assert.Equal(t, "batch-7", h.job.triggers[0].ImportBatchID)
	assert.True(t, completed.Equal(h.job.triggers[0].CompletedAt))
}

func TestProcessMessage_ImportCompletedFailures(t *testing.T) {
	h := newHarness()
	h.job.failures = []recompute.Failure{{EntityID: "ent-1", Err: errors.New("boom")}}

	msg := message(t, kafka.TypeImportCompleted, models.ImportCompleted{ImportBatchID: "b", CompletedAt: time.Now()})

	assert.NoError(t, h.processor.ProcessMessage(context.Background(), msg))
}

func TestProcessMessage_RunInProgressIsRetried(t *testing.T) {
	h := newHarness()
	h.job.err = canonerr.ErrRunInProgress

	msg := message(t, kafka.TypeImportCompleted, models.ImportCompleted{ImportBatchID: "b", CompletedAt: time.Now()})
	err := h.processor.ProcessMessage(context.Background(), msg)

	assert.ErrorIs(t, err, canonerr.ErrRunInProgress)
	assert.False(t, kafka.IsPermanent(err))
}

func TestProcessMessage_UnknownTypeSkipped(t *testing.T) {
	h := newHarness()

	err := h.processor.ProcessMessage(context.Background(), message(t, kafka.MessageType("ledger.rebuilt"), map[string]string{}))

	assert.NoError(t, err)
	assert.Empty(t, h.job.triggers)
}

func TestProcessMessage_MalformedIsPermanent(t *testing.T) {
	h := newHarness()

	err := h.processor.ProcessMessage(context.Background(), &kafka.IncomingMessage{Value: []byte("{not json"), Headers: map[string]string{}})

	assert.True(t, kafka.IsPermanent(err))
}
