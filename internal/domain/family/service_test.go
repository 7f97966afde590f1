package family

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/db"
	"github.com/curafile/curafile/internal/platform/events"
)

type memRepo struct {
	mu      sync.Mutex
	rels    map[uuid.UUID]*Relation
	members map[uuid.UUID]MemberDetails
}

func newMemRepo() *memRepo {
	return &memRepo{rels: make(map[uuid.UUID]*Relation), members: make(map[uuid.UUID]MemberDetails)}
}

func (m *memRepo) Create(_ context.Context, r *Relation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.rels {
		if x.PrimaryPatientID == r.PrimaryPatientID && x.FamilyMemberID == r.FamilyMemberID {
			return &pgconn.PgError{Code: db.UniqueViolation}
		}
	}
	cp := *r
	m.rels[r.ID] = &cp
	return nil
}

func (m *memRepo) withMember(r *Relation) *Relation {
	cp := *r
	if d, ok := m.members[r.FamilyMemberID]; ok {
		cp.Member = &d
	}
	return &cp
}

func (m *memRepo) Get(_ context.Context, primaryID, id uuid.UUID) (*Relation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rels[id]
	if !ok || r.PrimaryPatientID != primaryID {
		return nil, pgx.ErrNoRows
	}
	return m.withMember(r), nil
}

func (m *memRepo) List(_ context.Context, primaryID uuid.UUID) ([]*Relation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Relation
	for _, r := range m.rels {
		if r.PrimaryPatientID == primaryID {
			out = append(out, m.withMember(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) UpdatePermissions(_ context.Context, r *Relation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rels[r.ID]
	if !ok || cur.PrimaryPatientID != r.PrimaryPatientID {
		return pgx.ErrNoRows
	}
	cur.CanViewMedicalRecords = r.CanViewMedicalRecords
	cur.CanBookAppointments = r.CanBookAppointments
	cur.UpdatedAt = r.UpdatedAt
	return nil
}

func (m *memRepo) Delete(_ context.Context, primaryID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rels[id]
	if !ok || r.PrimaryPatientID != primaryID {
		return pgx.ErrNoRows
	}
	delete(m.rels, id)
	return nil
}

type fakeDirectory map[string]uuid.UUID

func (d fakeDirectory) PatientIDByPublicID(_ context.Context, publicID string) (uuid.UUID, error) {
	if id, ok := d[publicID]; ok {
		return id, nil
	}
	return uuid.Nil, pgx.ErrNoRows
}

type fixture struct {
	svc     *Service
	repo    *memRepo
	events  *events.Recorder
	primary uuid.UUID
	sibling uuid.UUID
	now     time.Time
}

func newFixture() *fixture {
	f := &fixture{
		repo:    newMemRepo(),
		events:  &events.Recorder{},
		primary: uuid.New(),
		sibling: uuid.New(),
		now:     time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	dir := fakeDirectory{"PAT-PRIMARY1": f.primary, "PAT-SIBLING1": f.sibling}
	f.repo.members[f.sibling] = MemberDetails{PatientID: "PAT-SIBLING1", FullName: "Ravi Rao", Email: "ravi@example.com"}
	f.svc = NewService(f.repo, dir, f.events, zerolog.Nop())
	f.svc.now = func() time.Time {
		f.now = f.now.Add(time.Second)
		return f.now
	}
	return f
}

func (f *fixture) addSibling(t *testing.T) *Relation {
	t.Helper()
	rel, err := f.svc.Add(context.Background(), f.primary, AddInput{
		FamilyMemberPatientID: " pat-sibling1 ",
		Relationship:          "Brother",
		CanViewMedicalRecords: true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return rel
}

func TestAdd_LinksByPublicID(t *testing.T) {
	f := newFixture()
	rel := f.addSibling(t)

	if rel.FamilyMemberPatientID != "PAT-SIBLING1" || !rel.CanViewMedicalRecords || rel.CanBookAppointments {
		t.Errorf("unexpected relation %+v", rel)
	}
	if rel.Member == nil || rel.Member.Email != "ravi@example.com" {
		t.Errorf("expected member details, got %+v", rel.Member)
	}
	if got := f.events.Types(); len(got) != 1 || got[0] != events.FamilyMemberAdded {
		t.Errorf("unexpected events %v", got)
	}
}

func TestAdd_Rejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.addSibling(t)

	cases := []struct {
		name string
		in   AddInput
		kind apperr.Kind
		msg  string
	}{
		{"missing id", AddInput{Relationship: "Brother"}, apperr.KindBadRequest, "Family member patient ID is required"},
		{"short relationship", AddInput{FamilyMemberPatientID: "PAT-SIBLING1", Relationship: "B"}, apperr.KindBadRequest, "Relationship is required"},
		{"unknown patient", AddInput{FamilyMemberPatientID: "PAT-NOBODY00", Relationship: "Cousin"}, apperr.KindNotFound, msgMemberNotFound},
		{"self", AddInput{FamilyMemberPatientID: "PAT-PRIMARY1", Relationship: "Self"}, apperr.KindBadRequest, "You cannot add yourself as a family member"},
		{"duplicate", AddInput{FamilyMemberPatientID: "PAT-SIBLING1", Relationship: "Brother"}, apperr.KindConflict, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Add(ctx, f.primary, tc.in)
			if !apperr.Is(err, tc.kind) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
			if tc.msg != "" && apperr.MessageOf(err) != tc.msg {
				t.Errorf("expected %q, got %q", tc.msg, apperr.MessageOf(err))
			}
		})
	}
	if len(f.repo.rels) != 1 {
		t.Errorf("expected only the first relation stored, got %d", len(f.repo.rels))
	}
}

func TestUpdatePermissions_PartialAndScoped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	rel := f.addSibling(t)
	yes := true

	updated, err := f.svc.UpdatePermissions(ctx, f.primary, rel.ID, PermissionsInput{CanBookAppointments: &yes})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.CanBookAppointments || !updated.CanViewMedicalRecords {
		t.Errorf("omitted flag must be kept, got %+v", updated)
	}

	_, err = f.svc.UpdatePermissions(ctx, f.sibling, rel.ID, PermissionsInput{CanBookAppointments: &yes})
	if !apperr.Is(err, apperr.KindNotFound) || apperr.MessageOf(err) != msgRelationNotFound {
		t.Errorf("another patient must not see the relation, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	rel := f.addSibling(t)

	if err := f.svc.Remove(ctx, f.sibling, rel.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for a foreign remove, got %v", err)
	}
	if err := f.svc.Remove(ctx, f.primary, rel.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	rels, _ := f.svc.List(ctx, f.primary)
	if len(rels) != 0 {
		t.Errorf("expected an empty list, got %d", len(rels))
	}
	if got := f.events.Types(); got[len(got)-1] != events.FamilyMemberRemoved {
		t.Errorf("expected a removal event, got %v", got)
	}
}
