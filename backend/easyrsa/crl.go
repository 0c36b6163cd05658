package easyrsa

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"vpnadm/backend/shell"
)

func ReadRevocationList(path string) (*x509.RevocationList, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block in " + path)
	}
	revList, err := x509.ParseRevocationList(block.Bytes)
	if err != nil {
		log.Errorf("error reading CRL '%s': %s", path, err.Error())
		return nil, err
	}
	return revList, nil
}

// EnsureFreshCRL regenerates the CRL when the served copy is missing or
// expired, and mirrors it into the certificates directory. Called at boot.
func (e Easyrsa) EnsureFreshCRL(ctx context.Context) error {
	served := e.CertsDir + "/crl.pem"
	if shell.FileExist(served) {
		revList, err := ReadRevocationList(served)
		if err == nil && revList.NextUpdate.After(time.Now()) {
			log.Debugf("CRL valid until %s, %d entries", revList.NextUpdate.Format(time.RFC3339), len(revList.RevokedCertificateEntries))
			return nil
		}
		if err == nil {
			log.Infof("CRL expired since %d seconds, rebuilding", int64(time.Since(revList.NextUpdate).Seconds()))
		}
	}
	crlPath, err := e.RegenerateCRL(ctx)
	if err != nil {
		return err
	}
	return shell.FileCopy(crlPath, served)
}
