package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/otcheredev/pacs-node/internal/cache"
	"github.com/otcheredev/pacs-node/internal/models"
	"github.com/otcheredev/pacs-node/pkg/dimse"
)

// ErrInvalidInput marks request validation failures handlers map to 400.
var ErrInvalidInput = errors.New("invalid input")

// aeCacheTTL bounds how long a resolved peer address may be reused.
const aeCacheTTL = 5 * time.Minute

// PeerDirectory is the slice of the known AE repository the AE service
// consumes.
type PeerDirectory interface {
	Create(ctx context.Context, ae *models.KnownAE) error
	GetByAETitle(ctx context.Context, aeTitle string) (*models.KnownAE, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.KnownAE, error)
	List(ctx context.Context) ([]models.KnownAE, error)
	Update(ctx context.Context, ae *models.KnownAE) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountActive(ctx context.Context) (int64, error)
}

// AEService manages the known application entity registry. It backs
// calling AE admission and move destination resolution, implementing
// dimse.AEResolver.
type AEService struct {
	repo    PeerDirectory
	cache   cache.Cache
	aeTitle string
	timeout time.Duration
}

// NewAEService creates a new AE service. aeTitle is the local title
// used when dialing peers; cache may be nil.
func NewAEService(repo PeerDirectory, c cache.Cache, aeTitle string, timeout time.Duration) *AEService {
	return &AEService{repo: repo, cache: c, aeTitle: aeTitle, timeout: timeout}
}

// Resolve returns the active peer registered under aeTitle, or nil when
// the title is unknown
func (s *AEService) Resolve(ctx context.Context, aeTitle string) (*dimse.Peer, error) {
	key := cache.AEKey(aeTitle)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var p dimse.Peer
			if json.Unmarshal(raw, &p) == nil {
				return &p, nil
			}
		}
	}

	ae, err := s.repo.GetByAETitle(ctx, aeTitle)
	if err != nil {
		return nil, err
	}
	if ae == nil {
		return nil, nil
	}

	p := &dimse.Peer{AETitle: ae.AETitle, Host: ae.Host, Port: ae.Port}
	if s.cache != nil {
		if raw, err := json.Marshal(p); err == nil {
			s.cache.Set(ctx, key, raw, aeCacheTTL)
		}
	}
	return p, nil
}

// Empty reports whether the registry holds no active entries
func (s *AEService) Empty(ctx context.Context) (bool, error) {
	n, err := s.repo.CountActive(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// CreateAE registers a new application entity
func (s *AEService) CreateAE(ctx context.Context, req *models.KnownAERequest) (*models.KnownAE, error) {
	if err := validateAETitle(req.AETitle); err != nil {
		return nil, err
	}
	if req.Port < 1 || req.Port > 65535 {
		return nil, fmt.Errorf("%w: port must be between 1 and 65535", ErrInvalidInput)
	}

	ae := &models.KnownAE{
		AETitle:     req.AETitle,
		Host:        req.Host,
		Port:        req.Port,
		Description: req.Description,
		IsActive:    true,
	}
	if req.IsActive != nil {
		ae.IsActive = *req.IsActive
	}

	if err := s.repo.Create(ctx, ae); err != nil {
		return nil, err
	}
	s.invalidate(ctx, ae.AETitle)
	return ae, nil
}

// GetAE retrieves an application entity by ID
func (s *AEService) GetAE(ctx context.Context, id uuid.UUID) (*models.KnownAE, error) {
	return s.repo.GetByID(ctx, id)
}

// ListAEs retrieves all registered application entities
func (s *AEService) ListAEs(ctx context.Context) ([]models.KnownAE, error) {
	return s.repo.List(ctx)
}

// UpdateAE updates an application entity
func (s *AEService) UpdateAE(ctx context.Context, id uuid.UUID, req *models.KnownAERequest) (*models.KnownAE, error) {
	if err := validateAETitle(req.AETitle); err != nil {
		return nil, err
	}
	if req.Port < 1 || req.Port > 65535 {
		return nil, fmt.Errorf("%w: port must be between 1 and 65535", ErrInvalidInput)
	}

	ae, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	oldTitle := ae.AETitle

	ae.AETitle = req.AETitle
	ae.Host = req.Host
	ae.Port = req.Port
	ae.Description = req.Description
	if req.IsActive != nil {
		ae.IsActive = *req.IsActive
	}

	if err := s.repo.Update(ctx, ae); err != nil {
		return nil, err
	}
	s.invalidate(ctx, oldTitle)
	s.invalidate(ctx, ae.AETitle)
	return ae, nil
}

// DeleteAE removes an application entity
func (s *AEService) DeleteAE(ctx context.Context, id uuid.UUID) error {
	ae, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, ae.AETitle)
	return nil
}

// EchoPeer verifies connectivity to a registered peer with a
// verification request
func (s *AEService) EchoPeer(ctx context.Context, id uuid.UUID) (*models.ConnectionStatus, error) {
	ae, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	status := &models.ConnectionStatus{LastChecked: time.Now().UTC()}
	start := time.Now()

	assoc := dimse.NewAssociation(dimse.AssociationConfig{
		Host:       ae.Host,
		Port:       ae.Port,
		CallingAET: s.aeTitle,
		CalledAET:  ae.AETitle,
		Timeout:    s.timeout,
		PresentationContexts: []dimse.ProposedContext{{
			AbstractSyntax:   dimse.VerificationSOPClass,
			TransferSyntaxes: dimse.DefaultTransferSyntaxes(),
		}},
	})
	if err := assoc.Connect(ctx); err != nil {
		status.ErrorMessage = err.Error()
		return status, nil
	}
	defer assoc.Close()

	if err := assoc.CEcho(ctx); err != nil {
		status.ErrorMessage = err.Error()
		return status, nil
	}

	status.IsConnected = true
	status.ResponseTime = time.Since(start).Milliseconds()
	return status, nil
}

func (s *AEService) invalidate(ctx context.Context, aeTitle string) {
	if s.cache != nil {
		s.cache.Delete(ctx, cache.AEKey(aeTitle))
	}
}

// validateAETitle enforces the 16 character AE title limit and the
// default repertoire restrictions.
func validateAETitle(title string) error {
	if title == "" || len(title) > 16 {
		return fmt.Errorf("%w: AE title must be 1 to 16 characters", ErrInvalidInput)
	}
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: AE title must not be blank", ErrInvalidInput)
	}
	for _, r := range title {
		if r < 0x20 || r > 0x7E || r == '\\' {
			return fmt.Errorf("%w: AE title contains invalid character %q", ErrInvalidInput, r)
		}
	}
	return nil
}
