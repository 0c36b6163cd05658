package easyrsa

import (
	"errors"
	"fmt"
	"strings"

	"vpnadm/backend/shell"
)

// BundleConfig describes the connection block rendered into every client
// bundle. Remotes are "host:port" or "host:port:proto" entries.
type BundleConfig struct {
	Remotes  []string
	Cipher   string
	Auth     string
	CompLzo  bool
	ServerCn string
}

// Bundle settings are optional; zero values produce a minimal profile.
var DefaultBundle = BundleConfig{
	Cipher: "AES-256-GCM",
	Auth:   "SHA256",
}

// writeClientBundle renders <name>.ovpn into the certificates directory,
// embedding the CA chain, the client certificate and its private key.
func (e Easyrsa) writeClientBundle(commonName string) (string, error) {
	ca := shell.ReadFile(e.DirPath + "/pki/ca.crt")
	cert := stripCertificateText(shell.ReadFile(e.DirPath + "/pki/issued/" + commonName + ".crt"))
	key := shell.ReadFile(e.DirPath + "/pki/private/" + commonName + ".key")
	if len(ca) == 0 || len(cert) == 0 || len(key) == 0 {
		return "", errors.New("issued certificate files are incomplete for " + commonName)
	}

	conf := e.Bundle
	var lines []string
	lines = append(lines, "client")
	lines = append(lines, "dev tun")
	lines = append(lines, "proto udp")
	for _, remote := range conf.Remotes {
		parts := strings.SplitN(remote, ":", 3)
		switch len(parts) {
		case 3:
			lines = append(lines, fmt.Sprintf("remote %s %s %s", parts[0], parts[1], parts[2]))
		case 2:
			lines = append(lines, fmt.Sprintf("remote %s %s", parts[0], parts[1]))
		case 1:
			lines = append(lines, fmt.Sprintf("remote %s 1194", parts[0]))
		}
	}
	lines = append(lines, "resolv-retry infinite")
	lines = append(lines, "nobind")
	lines = append(lines, "persist-key")
	lines = append(lines, "persist-tun")
	lines = append(lines, "remote-cert-tls server")
	if len(conf.ServerCn) > 0 {
		lines = append(lines, fmt.Sprintf("verify-x509-name %s name", conf.ServerCn))
	}
	if len(conf.Cipher) > 0 {
		lines = append(lines, fmt.Sprintf("cipher %s", conf.Cipher))
	}
	if len(conf.Auth) > 0 {
		lines = append(lines, fmt.Sprintf("auth %s", conf.Auth))
	}
	if conf.CompLzo {
		lines = append(lines, "comp-lzo")
	}
	lines = append(lines, "verb 3")
	lines = append(lines, "<ca>")
	lines = append(lines, strings.TrimSpace(ca))
	lines = append(lines, "</ca>")
	lines = append(lines, "<cert>")
	lines = append(lines, strings.TrimSpace(cert))
	lines = append(lines, "</cert>")
	lines = append(lines, "<key>")
	lines = append(lines, strings.TrimSpace(key))
	lines = append(lines, "</key>")
	if taKey := shell.ReadFile(e.DirPath + "/pki/ta.key"); len(taKey) > 0 {
		lines = append(lines, "<tls-auth>")
		lines = append(lines, strings.TrimSpace(taKey))
		lines = append(lines, "</tls-auth>")
		lines = append(lines, "key-direction 1")
	}

	path := e.CertsDir + "/" + commonName + ".ovpn"
	if err := shell.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n")); err != nil {
		return "", err
	}
	return path, nil
}

// stripCertificateText drops the human-readable openssl text easyrsa leaves
// before the PEM block.
func stripCertificateText(content string) string {
	begin := strings.Index(content, "-----BEGIN CERTIFICATE-----")
	if begin < 0 {
		return ""
	}
	return content[begin:]
}
