package main

import (
	"context"
	"net/http"
	"time"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/seancfoley/ipaddress-go/ipaddr"
	log "github.com/sirupsen/logrus"

	"vpnadm/backend/audit"
	"vpnadm/backend/auth"
	"vpnadm/backend/cert"
	"vpnadm/backend/easyrsa"
	"vpnadm/backend/preference"
	"vpnadm/backend/session"
)

var (
	listenHost        = kingpin.Flag("listen.host", "host for vpnadm").Default("0.0.0.0").Envar("VPNADM_LISTEN_HOST").String()
	listenPort        = kingpin.Flag("listen.port", "port for vpnadm").Default("8042").Envar("VPNADM_LISTEN_PORT").String()
	easyrsaBinPath    = kingpin.Flag("easyrsa.bin", "path to easyrsa script").Default("/usr/share/easy-rsa/easyrsa").Envar("EASYRSA_BIN").String()
	easyrsaDirPath    = kingpin.Flag("easyrsa.path", "path to easyrsa pki dir").Default("/etc/openvpn/easyrsa").Envar("EASYRSA_DIR").String()
	certsDirPath      = kingpin.Flag("certs.path", "directory for client bundles and the served CRL").Default("/etc/openvpn/clients").Envar("VPNADM_CERTS_DIR").String()
	configDir         = kingpin.Flag("config.dir", "configuration files dir").Default("/etc/openvpn/admin").Envar("CONFIG_DIR").String()
	auditDbPath       = kingpin.Flag("audit.db", "path to the audit log database").Default("/etc/openvpn/admin/audit.db").Envar("VPNADM_AUDIT_DB").String()
	vpnServers        = kingpin.Flag("ovpn.server", "HOST:PORT:PROTOCOL remote for client bundles; can have multiple values").Envar("OVPN_SERVER").PlaceHolder("HOST:PORT:PROTOCOL").Strings()
	pkiTimeout        = kingpin.Flag("pki.timeout", "hard ceiling on external PKI tool calls").Default("30s").Envar("VPNADM_PKI_TIMEOUT").Duration()
	trustedProxyCidrs = kingpin.Flag("trusted-proxies", "CIDR of proxies allowed to set forwarding headers; can have multiple values").Envar("VPNADM_TRUSTED_PROXIES").PlaceHolder("CIDR").Strings()
	metricsPath       = kingpin.Flag("metrics.path", "URL path for exposing collected metrics").Default("/metrics").Envar("VPNADM_METRICS_PATH").String()
	logLevel          = kingpin.Flag("log.level", "log level (debug|info|warn|error)").Default("info").Envar("VPNADM_LOG_LEVEL").String()
	logFormat         = kingpin.Flag("log.format", "log format (text|json)").Default("text").Envar("VPNADM_LOG_FORMAT").String()
)

var version string

// VpnAdmin wires the core services to the HTTP layer.
type VpnAdmin struct {
	auth           *auth.Service
	certs          *cert.Manager
	sessions       session.Store
	audit          *audit.Logger
	preferences    preference.ApplicationConfig
	trustedProxies []*ipaddr.IPAddress
	promRegistry   *prometheus.Registry
	hub            *wsHub
	limiter        *requestLimiter
}

func setupLogging() {
	if *logFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Warnf("unknown log level %q, using info", *logLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func parseTrustedProxies(cidrs []string) []*ipaddr.IPAddress {
	blocks := make([]*ipaddr.IPAddress, 0, len(cidrs))
	for _, cidr := range cidrs {
		addr := ipaddr.NewIPAddressString(cidr).GetAddress()
		if addr == nil {
			log.Fatalf("invalid trusted proxy CIDR %q", cidr)
		}
		blocks = append(blocks, addr.ToPrefixBlock())
	}
	return blocks
}

func main() {
	kingpin.Version(version)
	kingpin.Parse()
	setupLogging()

	app := new(VpnAdmin)
	preference.LoadPreferences(&app.preferences, *configDir)
	if len(app.preferences.Users) == 0 {
		log.Warnf("no admin account configured, logins will be rejected")
	}

	app.auth = auth.NewService(app.preferences.Credentials(), auth.Config{
		AccessSecret:     app.preferences.AccessSecret,
		RefreshSecret:    app.preferences.RefreshSecret,
		AccessTTL:        time.Duration(app.preferences.AccessTokenTTLMinutes) * time.Minute,
		RefreshTTL:       time.Duration(app.preferences.RefreshTokenTTLHours) * time.Hour,
		EnforceIPBinding: app.preferences.EnforceIPBinding,
		MaxFailedAttempt: app.preferences.MaxFailedAttempts,
		LockoutDuration:  time.Duration(app.preferences.LockoutDurationMinutes) * time.Minute,
	})

	rsa := easyrsa.Easyrsa{
		BinPath:  *easyrsaBinPath,
		DirPath:  *easyrsaDirPath,
		CertsDir: *certsDirPath,
		Timeout:  *pkiTimeout,
		Bundle: easyrsa.BundleConfig{
			Remotes: *vpnServers,
			Cipher:  easyrsa.DefaultBundle.Cipher,
			Auth:    easyrsa.DefaultBundle.Auth,
		},
	}
	if v := rsa.Version(context.Background()); v == "absent" {
		log.Warnf("easyrsa binary not found at %s", *easyrsaBinPath)
	} else {
		log.Infof("easyrsa version %s", v)
	}
	if err := rsa.EnsureFreshCRL(context.Background()); err != nil {
		log.Warnf("can't refresh CRL at startup: %v", err)
	}

	auditStore, err := audit.OpenStore(*auditDbPath)
	if err != nil {
		log.Fatalf("can't open audit store %s: %v", *auditDbPath, err)
	}
	defer auditStore.Close()
	app.audit = audit.NewLogger(auditStore)

	app.certs = cert.NewManager(cert.NewMemoryRegistry(), pkiAdapter{rsa}, *certsDirPath)
	app.sessions = session.NewMemoryStore(30 * time.Minute)
	app.trustedProxies = parseTrustedProxies(*trustedProxyCidrs)
	app.promRegistry = prometheus.NewRegistry()
	registerMetrics(app.promRegistry)
	app.hub = newWsHub()
	app.limiter = newRequestLimiter(defaultRequestsPerWindow, defaultRequestWindow)
	app.certs.OnEvent(func(e cert.Event) {
		app.hub.broadcast(e)
		app.refreshCertMetrics()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.auth.Lockout().StartSweeper(ctx, time.Minute)
	if store, ok := app.sessions.(*session.MemoryStore); ok {
		store.StartSweeper(ctx, time.Minute)
	}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				app.limiter.sweep()
			}
		}
	}()
	app.refreshCertMetrics()

	addr := *listenHost + ":" + *listenPort
	log.Infof("vpnadm %s listening on %s", version, addr)
	if err := http.ListenAndServe(addr, app.router()); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// pkiAdapter satisfies the lifecycle manager's PKI port with easyrsa.
type pkiAdapter struct {
	rsa easyrsa.Easyrsa
}

func (a pkiAdapter) Issue(ctx context.Context, name string) (cert.IssueResult, error) {
	timer := prometheus.NewTimer(pkiCommandDuration.WithLabelValues("issue"))
	defer timer.ObserveDuration()
	res, err := a.rsa.Issue(ctx, name)
	if err != nil {
		return cert.IssueResult{}, err
	}
	return cert.IssueResult{CertPath: res.CertPath, KeyPath: res.KeyPath, BundlePath: res.BundlePath}, nil
}

func (a pkiAdapter) Revoke(ctx context.Context, name string) error {
	timer := prometheus.NewTimer(pkiCommandDuration.WithLabelValues("revoke"))
	defer timer.ObserveDuration()
	return a.rsa.Revoke(ctx, name)
}

func (a pkiAdapter) RegenerateCRL(ctx context.Context) (string, error) {
	timer := prometheus.NewTimer(pkiCommandDuration.WithLabelValues("gen-crl"))
	defer timer.ObserveDuration()
	return a.rsa.RegenerateCRL(ctx)
}

func (a pkiAdapter) CertInfo(path string) (cert.CertInfo, error) {
	info, err := a.rsa.CertInfo(path)
	if err != nil {
		return cert.CertInfo{}, err
	}
	return cert.CertInfo{SerialNumber: info.SerialNumber, ExpiresAt: info.ExpiresAt}, nil
}
