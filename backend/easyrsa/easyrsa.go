package easyrsa

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	log "github.com/sirupsen/logrus"

	"vpnadm/backend/shell"
)

// Easyrsa drives the easy-rsa command line tool. All mutating calls shell
// out and block until the subprocess exits or the timeout elapses.
type Easyrsa struct {
	BinPath  string
	DirPath  string
	CertsDir string
	Bundle   BundleConfig
	Timeout  time.Duration
}

const defaultTimeout = 30 * time.Second

func (e Easyrsa) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return defaultTimeout
}

// CertInfo is the subset of certificate fields the registry cares about.
type CertInfo struct {
	SerialNumber string
	ExpiresAt    time.Time
}

// IssueResult reports the files produced by a successful issuance.
type IssueResult struct {
	CertPath   string
	KeyPath    string
	BundlePath string
}

// Version returns the easyrsa version string, "absent" when the binary is
// not installed, or "error" when it can't be queried.
func (e Easyrsa) Version(ctx context.Context) string {
	if !shell.FileExist(e.BinPath) {
		return "absent"
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()
	output, err := shell.RunBash(ctx, shellescape.Quote(e.BinPath)+" --version")
	if err != nil {
		return "error"
	}
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "Version:") {
			return strings.TrimSpace(line[len("Version:"):])
		}
	}
	return "error"
}

// Issue creates a client certificate for the given common name and writes
// the prebuilt .ovpn bundle into the certificates directory.
func (e Easyrsa) Issue(ctx context.Context, commonName string) (IssueResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	cmd := fmt.Sprintf(
		"cd %s && %s --batch build-client-full %s nopass 1>/dev/null",
		shellescape.Quote(e.DirPath),
		shellescape.Quote(e.BinPath),
		shellescape.Quote(commonName),
	)
	o, err := shell.RunBash(ctx, cmd)
	if err != nil {
		log.Errorf("easyrsa build-client-full %s failed: %v, output: %s", commonName, err, o)
		return IssueResult{}, fmt.Errorf("easyrsa issue %s: %w", commonName, err)
	}

	res := IssueResult{
		CertPath: e.DirPath + "/pki/issued/" + commonName + ".crt",
		KeyPath:  e.DirPath + "/pki/private/" + commonName + ".key",
	}
	bundlePath, err := e.writeClientBundle(commonName)
	if err != nil {
		return IssueResult{}, err
	}
	res.BundlePath = bundlePath
	return res, nil
}

// Revoke marks the certificate revoked in the easyrsa database. It does not
// regenerate the CRL; callers chain RegenerateCRL afterwards.
func (e Easyrsa) Revoke(ctx context.Context, commonName string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	cmd := fmt.Sprintf(
		"cd %s && echo yes | %s revoke %s 1>/dev/null",
		shellescape.Quote(e.DirPath),
		shellescape.Quote(e.BinPath),
		shellescape.Quote(commonName),
	)
	o, err := shell.RunBash(ctx, cmd)
	if err != nil {
		log.Errorf("easyrsa revoke %s failed: %v, output: %s", commonName, err, o)
		return fmt.Errorf("easyrsa revoke %s: %w", commonName, err)
	}
	return nil
}

// RegenerateCRL rebuilds pki/crl.pem and returns its path.
func (e Easyrsa) RegenerateCRL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	cmd := fmt.Sprintf(
		"cd %s && %s gen-crl 1>/dev/null",
		shellescape.Quote(e.DirPath),
		shellescape.Quote(e.BinPath),
	)
	o, err := shell.RunBash(ctx, cmd)
	if err != nil {
		log.Errorf("easyrsa gen-crl failed: %v, output: %s", err, o)
		return "", fmt.Errorf("easyrsa gen-crl: %w", err)
	}
	e.chmodFix()
	return e.DirPath + "/pki/crl.pem", nil
}

// CertInfo reads serial number and expiry from a PEM encoded certificate.
// Bundles (.ovpn) are understood too: the client certificate is taken from
// the inline <cert> block.
func (e Easyrsa) CertInfo(path string) (CertInfo, error) {
	x509cert, err := ReadCertificateX509(path)
	if err != nil {
		return CertInfo{}, err
	}
	return CertInfo{
		SerialNumber: strings.ToUpper(hex.EncodeToString(x509cert.SerialNumber.Bytes())),
		ExpiresAt:    x509cert.NotAfter,
	}, nil
}

func ReadCertificateX509(path string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if begin := strings.Index(string(raw), "<cert>"); begin >= 0 {
		rest := string(raw)[begin+len("<cert>"):]
		if end := strings.Index(rest, "</cert>"); end >= 0 {
			raw = []byte(rest[:end])
		}
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block in " + path)
	}
	x509cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		log.Errorf("error parsing certificate '%s': %s", path, err.Error())
		return nil, err
	}
	return x509cert, nil
}

// https://community.openvpn.net/openvpn/ticket/623
func (e Easyrsa) chmodFix() {
	if err := os.Chmod(e.DirPath+"/pki", 0755); err != nil {
		log.Warnf("chmod pki: %v", err)
		return
	}
	if err := os.Chmod(e.DirPath+"/pki/crl.pem", 0644); err != nil {
		log.Warnf("chmod crl.pem: %v", err)
	}
}
