package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/curafile/curafile/internal/platform/auth"
)

type mockRepo struct {
	mu            sync.Mutex
	identities    map[uuid.UUID]*Identity
	roles         map[uuid.UUID][]auth.Role
	patients      map[uuid.UUID]*PatientProfile
	doctors       map[uuid.UUID]*DoctorProfile
	clinics       map[uuid.UUID]*Clinic
	subscriptions map[uuid.UUID]*Subscription
	publicIDs     map[string]uuid.UUID
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		identities:    make(map[uuid.UUID]*Identity),
		roles:         make(map[uuid.UUID][]auth.Role),
		patients:      make(map[uuid.UUID]*PatientProfile),
		doctors:       make(map[uuid.UUID]*DoctorProfile),
		clinics:       make(map[uuid.UUID]*Clinic),
		subscriptions: make(map[uuid.UUID]*Subscription),
		publicIDs:     make(map[string]uuid.UUID),
	}
}

func (m *mockRepo) CreateIdentity(_ context.Context, i *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *i
	m.identities[i.ID] = &cp
	return nil
}

func (m *mockRepo) GetIdentityByID(_ context.Context, id uuid.UUID) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.identities[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *i
	return &cp, nil
}

func (m *mockRepo) GetIdentityByEmail(_ context.Context, email string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.identities {
		if i.Email == email && !i.IsDeleted {
			cp := *i
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) update(id uuid.UUID, fn func(i *Identity)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.identities[id]
	if !ok {
		return pgx.ErrNoRows
	}
	fn(i)
	return nil
}

func (m *mockRepo) UpdatePassword(_ context.Context, id uuid.UUID, hash string, now time.Time) error {
	return m.update(id, func(i *Identity) { i.PasswordHash = hash; i.UpdatedAt = now })
}

func (m *mockRepo) SetEmailVerified(_ context.Context, id uuid.UUID, now time.Time) error {
	return m.update(id, func(i *Identity) { i.EmailVerified = true; i.UpdatedAt = now })
}

func (m *mockRepo) SetActive(_ context.Context, id uuid.UUID, active bool, now time.Time) error {
	return m.update(id, func(i *Identity) { i.IsActive = active; i.UpdatedAt = now })
}

func (m *mockRepo) TouchLastLogin(_ context.Context, id uuid.UUID, now time.Time) error {
	return m.update(id, func(i *Identity) { at := now; i.LastLoginAt = &at })
}

func (m *mockRepo) IsIdentityActive(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.identities[id]
	return ok && i.IsActive && !i.IsDeleted, nil
}

func (m *mockRepo) GrantRole(_ context.Context, id uuid.UUID, role auth.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles[id] {
		if r == role {
			return nil
		}
	}
	m.roles[id] = append(m.roles[id], role)
	return nil
}

func (m *mockRepo) Roles(_ context.Context, id uuid.UUID) ([]auth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]auth.Role(nil), m.roles[id]...), nil
}

func (m *mockRepo) PublicIDTaken(_ context.Context, publicID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.publicIDs[publicID]
	return ok, nil
}

func (m *mockRepo) CreatePatientProfile(_ context.Context, p *PatientProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.patients[p.IdentityID] = &cp
	m.publicIDs[p.PublicID] = p.ID
	return nil
}

func (m *mockRepo) GetPatientByIdentity(_ context.Context, identityID uuid.UUID) (*PatientProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[identityID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) AcceptTerms(_ context.Context, profileID uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patients {
		if p.ID == profileID {
			if p.TermsAccepted {
				return false, nil
			}
			at := now
			p.TermsAccepted = true
			p.TermsAcceptedAt = &at
			return true, nil
		}
	}
	return false, pgx.ErrNoRows
}

func (m *mockRepo) CreateDoctorProfile(_ context.Context, d *DoctorProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.doctors[d.IdentityID] = &cp
	m.publicIDs[d.PublicID] = d.ID
	return nil
}

func (m *mockRepo) GetDoctorByIdentity(_ context.Context, identityID uuid.UUID) (*DoctorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[identityID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *d
	return &cp, nil
}

func (m *mockRepo) CreateClinic(_ context.Context, c *Clinic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.clinics[c.OwnerIdentityID] = &cp
	m.publicIDs[c.PublicID] = c.ID
	return nil
}

func (m *mockRepo) CreateSubscription(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subscriptions[s.ClinicID] = &cp
	return nil
}

func (m *mockRepo) GetClinicByOwner(_ context.Context, identityID uuid.UUID) (*Clinic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clinics[identityID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) PatientProfileID(_ context.Context, identityID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.patients[identityID]; ok {
		return p.ID, nil
	}
	return uuid.Nil, pgx.ErrNoRows
}

func (m *mockRepo) DoctorProfileID(_ context.Context, identityID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.doctors[identityID]; ok {
		return d.ID, nil
	}
	return uuid.Nil, pgx.ErrNoRows
}

func (m *mockRepo) ClinicIDByOwner(_ context.Context, identityID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clinics[identityID]; ok {
		return c.ID, nil
	}
	return uuid.Nil, pgx.ErrNoRows
}

func (m *mockRepo) byPublicID(publicID string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.publicIDs[publicID]; ok {
		return id, nil
	}
	return uuid.Nil, pgx.ErrNoRows
}

func (m *mockRepo) PatientIDByPublicID(_ context.Context, publicID string) (uuid.UUID, error) {
	return m.byPublicID(publicID)
}

func (m *mockRepo) DoctorIDByPublicID(_ context.Context, publicID string) (uuid.UUID, error) {
	return m.byPublicID(publicID)
}

func (m *mockRepo) ClinicIDByPublicID(_ context.Context, publicID string) (uuid.UUID, error) {
	return m.byPublicID(publicID)
}

func (m *mockRepo) DoctorIDByEmail(ctx context.Context, email string) (uuid.UUID, error) {
	i, err := m.GetIdentityByEmail(ctx, email)
	if err != nil {
		return uuid.Nil, err
	}
	return m.DoctorProfileID(ctx, i.ID)
}

func (m *mockRepo) UpdatePhone(_ context.Context, id uuid.UUID, phone *string, now time.Time) error {
	return m.update(id, func(i *Identity) { i.Phone = phone; i.UpdatedAt = now })
}

func (m *mockRepo) UpdatePatientProfile(_ context.Context, p *PatientProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[p.IdentityID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *p
	m.patients[p.IdentityID] = &cp
	return nil
}

func (m *mockRepo) GetDoctorByPublicID(_ context.Context, publicID string) (*DoctorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.doctors {
		if d.PublicID == publicID && m.live(d.IdentityID) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) UpdateDoctorProfile(_ context.Context, d *DoctorProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.doctors[d.IdentityID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *d
	m.doctors[d.IdentityID] = &cp
	return nil
}

func (m *mockRepo) GetClinicByPublicID(_ context.Context, publicID string) (*Clinic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clinics {
		if c.PublicID == publicID && m.live(c.OwnerIdentityID) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) UpdateClinic(_ context.Context, c *Clinic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clinics[c.OwnerIdentityID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *c
	m.clinics[c.OwnerIdentityID] = &cp
	return nil
}

func (m *mockRepo) GetSubscription(_ context.Context, clinicID uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[clinicID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

// live reports whether the identity can be looked up publicly. Callers hold mu.
func (m *mockRepo) live(id uuid.UUID) bool {
	i, ok := m.identities[id]
	return ok && i.IsActive && !i.IsDeleted
}
