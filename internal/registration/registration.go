// Package registration holds the Registration data model. Registration
// CRUD and persistence are named external collaborators (spec Non-goal);
// this package ships only the shape the core needs plus a small in-memory
// store for tests and local demos.
package registration

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/posix4e/tdx-trust-gateway/internal/measurement"
)

var hex96 = regexp.MustCompile(`^[a-f0-9]{96}$`)
var digestPattern = regexp.MustCompile(`^sha256:[a-f0-9]{64}$`)

// Registration is the intended identity of a workload, as described in
// spec.md §3.
type Registration struct {
	ID                    string
	Name                  string
	ImageRepository       string
	ImageTag              string
	ImageDigest           *string
	ForgeOwner            string
	ForgeRepo             string
	ForgeWorkflowPath     *string
	AppEndpoint           string
	QuoteProviderEndpoint string

	ExpectedMRTD  *string
	ExpectedRTMR0 *string
	ExpectedRTMR1 *string
	ExpectedRTMR2 *string
	ExpectedRTMR3 *string
}

// Validate enforces the field-level invariants spec.md §3 names explicitly:
// digest shape, measurement hex length, and no trailing slash on
// app_endpoint.
func (r Registration) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("registration: id is required")
	}
	if r.ImageRepository == "" {
		return fmt.Errorf("registration: image_repository is required")
	}
	if r.ImageDigest != nil && !digestPattern.MatchString(*r.ImageDigest) {
		return fmt.Errorf("registration: image_digest %q is not sha256:<64 lowercase hex>", *r.ImageDigest)
	}
	for name, v := range map[string]*string{
		"expected_mrtd":  r.ExpectedMRTD,
		"expected_rtmr0": r.ExpectedRTMR0,
		"expected_rtmr1": r.ExpectedRTMR1,
		"expected_rtmr2": r.ExpectedRTMR2,
		"expected_rtmr3": r.ExpectedRTMR3,
	} {
		if v != nil && !hex96.MatchString(*v) {
			return fmt.Errorf("registration: %s must be 96 lowercase hex characters", name)
		}
	}
	if strings.HasSuffix(r.AppEndpoint, "/") {
		return fmt.Errorf("registration: app_endpoint must not have a trailing slash")
	}
	return nil
}

// ErrNotFound is returned by a Registrations implementation when the
// requested app_id is unknown.
var ErrNotFound = fmt.Errorf("registration not found")

// Registrations is the external collaborator boundary spec.md §1 names
// explicitly ("registration CRUD surface, database persistence... named
// interfaces only"). The gateway depends only on this interface.
type Registrations interface {
	Get(ctx context.Context, appID string) (Registration, error)
}

// Store is an in-memory Registrations implementation. It exists solely so
// this module is runnable end to end in tests and local demos; it is not a
// substitute for the real registration/persistence service.
type Store struct {
	mu   sync.RWMutex
	regs map[string]Registration
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{regs: make(map[string]Registration)}
}

// Put inserts or replaces a registration.
func (s *Store) Put(r Registration) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[r.ID] = r
	return nil
}

// Get implements Registrations.
func (s *Store) Get(_ context.Context, appID string) (Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regs[appID]
	if !ok {
		return Registration{}, ErrNotFound
	}
	return r, nil
}

// Delete removes a registration, matching the external CRUD surface's
// delete operation in shape only (no persistence).
func (s *Store) Delete(appID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.regs, appID)
}

// CaptureBaseline sets a registration's expected measurements from an
// observed quote, the supplemented equivalent of the source's
// BaselineRequest/BaselineResponse route: an operator trusts one attested
// boot and pins it as the baseline for every later request. Capturing a
// baseline for a quote that fails structural extraction is rejected rather
// than silently pinning zeroed measurements.
func CaptureBaseline(r Registration, quote []byte) (Registration, error) {
	m, err := measurement.Extract(quote)
	if err != nil {
		return Registration{}, fmt.Errorf("registration: capture baseline: %w", err)
	}
	r.ExpectedMRTD = &m.MRTD
	r.ExpectedRTMR0 = &m.RTMR0
	r.ExpectedRTMR1 = &m.RTMR1
	r.ExpectedRTMR2 = &m.RTMR2
	r.ExpectedRTMR3 = &m.RTMR3
	return r, nil
}
