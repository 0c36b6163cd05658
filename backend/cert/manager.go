package cert

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"vpnadm/backend/shell"
)

const nameRegexp = `^[a-zA-Z0-9_-]{3,50}$`

var validName = regexp.MustCompile(nameRegexp)

// IssueResult reports the files produced by the PKI tool for one issuance.
type IssueResult struct {
	CertPath   string
	KeyPath    string
	BundlePath string
}

// CertInfo is what the PKI tool can tell us about an issued certificate.
type CertInfo struct {
	SerialNumber string
	ExpiresAt    time.Time
}

// PKI is the narrow port over the external certificate-authority tool. The
// manager depends only on this interface so the backend stays swappable.
type PKI interface {
	Issue(ctx context.Context, name string) (IssueResult, error)
	Revoke(ctx context.Context, name string) error
	RegenerateCRL(ctx context.Context) (string, error)
	CertInfo(path string) (CertInfo, error)
}

// EventType identifies a certificate lifecycle event.
type EventType string

const (
	EventIssued  EventType = "issued"
	EventRevoked EventType = "revoked"
)

type Event struct {
	Type EventType `json:"type"`
	Name string    `json:"name"`
	By   string    `json:"by"`
	Time time.Time `json:"time"`
}

// Manager owns the certificate metadata registry and drives the PKI tool.
// Mutating operations are serialized per certificate name.
type Manager struct {
	registry Registry
	pki      PKI
	certsDir string
	notify   func(Event)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(registry Registry, pki PKI, certsDir string) *Manager {
	return &Manager{
		registry: registry,
		pki:      pki,
		certsDir: certsDir,
		locks:    make(map[string]*sync.Mutex),
	}
}

// OnEvent registers a callback invoked after every successful mutation.
func (m *Manager) OnEvent(fn func(Event)) {
	m.notify = fn
}

func (m *Manager) nameLock(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

func (m *Manager) emit(e Event) {
	if m.notify != nil {
		m.notify(e)
	}
}

func (m *Manager) bundlePath(name string) string {
	return m.certsDir + "/" + name + ".ovpn"
}

// List reconciles the certificate store directory against the registry.
// Store entries without a registry row are synthesized as active, with
// serial and expiry read best-effort through the PKI tool. Rows reserved by
// in-flight generations are hidden. Result is sorted newest first.
func (m *Manager) List() ([]*Metadata, error) {
	entries, err := os.ReadDir(m.certsDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileSystem, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ovpn") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".ovpn")
		if _, ok := m.registry.Get(name); ok {
			continue
		}
		row := &Metadata{
			Name:      name,
			Status:    StatusActive,
			CreatedAt: time.Now(),
		}
		if fi, err := entry.Info(); err == nil {
			row.CreatedAt = fi.ModTime()
		}
		info, err := m.pki.CertInfo(m.bundlePath(name))
		if err != nil {
			log.Warnf("can't read certificate info for untracked bundle %s: %v", name, err)
		} else {
			row.SerialNumber = info.SerialNumber
			row.ExpiresAt = info.ExpiresAt
		}
		m.registry.PutIfAbsent(row)
	}

	rows := m.registry.List()
	out := rows[:0]
	for _, row := range rows {
		if row.Status != StatusRequested {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Generate issues a new client certificate. The name is reserved in the
// registry before the PKI tool runs; the reservation is rolled back on any
// failure so no partial row survives.
func (m *Manager) Generate(ctx context.Context, name, requestedBy, clientIP string) (*Metadata, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("%w: %q must match %s", ErrInvalidName, name, nameRegexp)
	}

	l := m.nameLock(name)
	l.Lock()
	defer l.Unlock()

	if shell.FileExist(m.bundlePath(name)) {
		return nil, fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	reserved := &Metadata{
		Name:      name,
		Status:    StatusRequested,
		CreatedAt: time.Now(),
		CreatedBy: requestedBy,
	}
	if !m.registry.PutIfAbsent(reserved) {
		return nil, fmt.Errorf("%w: %q", ErrDuplicate, name)
	}

	res, err := m.pki.Issue(ctx, name)
	if err != nil {
		m.registry.Delete(name)
		log.Errorf("issue %s requested by %s (%s) failed: %v", name, requestedBy, clientIP, err)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	info, err := m.pki.CertInfo(res.CertPath)
	if err != nil {
		m.registry.Delete(name)
		_ = shell.DeleteFileIfExists(res.BundlePath)
		log.Errorf("issued %s but can't parse certificate: %v", name, err)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	row := reserved.clone()
	row.Status = StatusActive
	row.SerialNumber = info.SerialNumber
	row.ExpiresAt = info.ExpiresAt
	m.registry.Put(row)

	log.Infof("certificate %s issued by %s, serial %s, expires %s", name, requestedBy, row.SerialNumber, row.ExpiresAt.Format(time.RFC3339))
	m.emit(Event{Type: EventIssued, Name: name, By: requestedBy, Time: time.Now()})
	return row.clone(), nil
}

// Download returns the prebuilt client bundle as opaque bytes.
func (m *Manager) Download(name string) ([]byte, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("%w: %q must match %s", ErrInvalidName, name, nameRegexp)
	}
	path := m.bundlePath(name)
	if !shell.FileExist(path) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileSystem, err)
	}
	return data, nil
}

// Revoke marks the certificate revoked. The registry row only flips after
// the PKI tool revoke succeeded, the CRL was regenerated and the fresh CRL
// was copied into the serving directory; any failure before that leaves the
// row untouched.
func (m *Manager) Revoke(ctx context.Context, name, revokedBy, clientIP string) (*Metadata, error) {
	l := m.nameLock(name)
	l.Lock()
	defer l.Unlock()

	row, ok := m.registry.Get(name)
	if !ok || row.Status == StatusRequested {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if row.Status == StatusRevoked {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyRevoked, name)
	}

	if err := m.pki.Revoke(ctx, name); err != nil {
		log.Errorf("revoke %s requested by %s (%s) failed: %v", name, revokedBy, clientIP, err)
		return nil, fmt.Errorf("%w: %v", ErrRevocationFailed, err)
	}
	crlPath, err := m.pki.RegenerateCRL(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRevocationFailed, err)
	}
	if err := shell.FileCopy(crlPath, m.certsDir+"/crl.pem"); err != nil {
		log.Errorf("can't copy CRL into certificate store: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrRevocationFailed, err)
	}

	now := time.Now()
	row.Status = StatusRevoked
	row.RevokedAt = &now
	row.RevokedBy = revokedBy
	m.registry.Put(row)

	log.Infof("certificate %s revoked by %s", name, revokedBy)
	m.emit(Event{Type: EventRevoked, Name: name, By: revokedBy, Time: now})
	return row.clone(), nil
}
