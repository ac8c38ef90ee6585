package services

import (
	"github.com/google/uuid"

	"github.com/okralab/okra-server/internal/models"
)

type IdentityStore interface {
	AddParticipant(p *models.Participant) error
	GetParticipant(id string) (*models.Participant, error)
	ListParticipants() ([]*models.Participant, error)
	UpdateParticipant(p *models.Participant) error
	DeleteParticipant(id string) (bool, error)
}

// IdentityService mints credentials and proves participant identity on every
// protected call.
type IdentityService struct {
	store IdentityStore
	locks *participantLocks
}

func NewIdentityService(store IdentityStore) *IdentityService {
	return &IdentityService{store: store, locks: newParticipantLocks()}
}

// Register consumes the participant's registration key and issues a device
// key. The two credential fields swap atomically under the participant lock.
func (s *IdentityService) Register(participantID, registrationKey string) (*models.Participant, error) {
	if _, err := uuid.Parse(participantID); err != nil {
		return nil, NewInvalidCredentialsError()
	}
	unlock := s.locks.lock(participantID)
	defer unlock()

	p, err := s.store.GetParticipant(participantID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.RegistrationKey == "" || p.RegistrationKey != registrationKey {
		return nil, NewInvalidCredentialsError()
	}
	p.DeviceKey = RandomKey()
	p.RegistrationKey = ""
	if err := s.store.UpdateParticipant(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Authenticate resolves the participant matching both header credentials
// exactly. A malformed id is indistinguishable from a wrong one on the wire.
func (s *IdentityService) Authenticate(participantID, deviceKey string) (*models.Participant, error) {
	if participantID == "" || deviceKey == "" {
		return nil, NewMissingHeadersError()
	}
	if _, err := uuid.Parse(participantID); err != nil {
		return nil, NewInvalidCredentialsError()
	}
	p, err := s.store.GetParticipant(participantID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.DeviceKey == "" || p.DeviceKey != deviceKey {
		return nil, NewInvalidCredentialsError()
	}
	return p, nil
}

// Unregister clears the device key and installs newKey, or a freshly minted
// one when newKey is empty. Returns the registration key now in effect.
func (s *IdentityService) Unregister(participantID, newKey string) (string, error) {
	unlock := s.locks.lock(participantID)
	defer unlock()

	p, err := s.store.GetParticipant(participantID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", NewNotFoundError("Not found")
	}
	if newKey == "" {
		newKey = RandomKey()
	}
	p.DeviceKey = ""
	p.RegistrationKey = newKey
	if err := s.store.UpdateParticipant(p); err != nil {
		return "", err
	}
	return p.RegistrationKey, nil
}

func (s *IdentityService) CreateParticipant() (*models.Participant, error) {
	p := &models.Participant{
		ID:              uuid.NewString(),
		Label:           "unlabeled",
		RegistrationKey: RandomKey(),
	}
	if err := s.store.AddParticipant(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *IdentityService) LabelParticipant(participantID, label string) error {
	unlock := s.locks.lock(participantID)
	defer unlock()

	p, err := s.store.GetParticipant(participantID)
	if err != nil {
		return err
	}
	if p == nil {
		return NewNotFoundError("Not found")
	}
	p.Label = label
	return s.store.UpdateParticipant(p)
}

func (s *IdentityService) DeleteParticipant(participantID string) error {
	ok, err := s.store.DeleteParticipant(participantID)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("Not found")
	}
	return nil
}

func (s *IdentityService) ListParticipants() ([]*models.Participant, error) {
	return s.store.ListParticipants()
}

// RegistrationInfo is the out-of-band handshake payload. QRData is the exact
// newline-separated string the operator UI encodes into a QR code.
type RegistrationInfo struct {
	BaseURL         string `json:"baseUrl"`
	ParticipantID   string `json:"participantId"`
	RegistrationKey string `json:"registrationKey"`
	QRData          string `json:"qrData"`
}

// Registration returns the handshake payload for an unregistered participant.
// Registered participants have no registration key to show.
func (s *IdentityService) Registration(participantID, baseURL string) (*RegistrationInfo, error) {
	p, err := s.store.GetParticipant(participantID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("Not found")
	}
	if p.Registered() {
		return nil, NewNotFoundError("already registered")
	}
	return &RegistrationInfo{
		BaseURL:         baseURL,
		ParticipantID:   p.ID,
		RegistrationKey: p.RegistrationKey,
		QRData:          baseURL + "\n" + p.ID + "\n" + p.RegistrationKey,
	}, nil
}
