package main

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"git.sr.ht/~jakintosh/chatgate/pkg/gatewaytest"
	"github.com/spf13/pflag"
)

// Config holds all command-line configuration
type Config struct {
	ListenAddr      string
	Issuer          string
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
	Users           []gatewaytest.User
	Quiet           bool
}

// OutputContract is the JSON structure emitted on stdout
type OutputContract struct {
	BaseURL string       `json:"base_url"`
	Issuer  string       `json:"issuer"`
	Paths   OutputPaths  `json:"paths"`
	Users   []OutputUser `json:"users"`
	Keys    OutputKeys   `json:"keys"`
}

type OutputPaths struct {
	Login   string `json:"login"`
	Refresh string `json:"refresh"`
	Logout  string `json:"logout"`
	Health  string `json:"health"`
}

type OutputUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type OutputKeys struct {
	VerificationKeyDERBase64 string `json:"verification_key_der_base64"`
}

// userFlag is a repeatable --user flag
type userFlag []gatewaytest.User

func (u *userFlag) String() string {
	names := make([]string, len(*u))
	for i, user := range *u {
		names[i] = user.Username
	}
	return strings.Join(names, ",")
}

func (u *userFlag) Set(value string) error {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return fmt.Errorf("user must be in format 'username:password'")
	}
	*u = append(*u, gatewaytest.User{Username: parts[0], Password: parts[1]})
	return nil
}

func (u *userFlag) Type() string {
	return "username:password"
}

func main() {
	cfg := parseFlags()

	if cfg.Quiet {
		log.SetOutput(io.Discard)
	}

	gw, err := gatewaytest.New(gatewaytest.Config{
		Users:           cfg.Users,
		Issuer:          cfg.Issuer,
		AccessLifetime:  cfg.AccessLifetime,
		RefreshLifetime: cfg.RefreshLifetime,
	})
	if err != nil {
		log.Fatalf("failed to create gateway: %v\n", err)
	}

	verificationKeyDER, err := x509.MarshalPKIXPublicKey(gw.VerificationKey())
	if err != nil {
		log.Fatalf("failed to marshal verification key: %v\n", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v\n", err)
	}
	defer listener.Close()

	addr := listener.Addr().(*net.TCPAddr)
	baseURL := fmt.Sprintf("http://%s:%d", addr.IP, addr.Port)

	contract := OutputContract{
		BaseURL: baseURL,
		Issuer:  cfg.Issuer,
		Paths: OutputPaths{
			Login:   "/auth/login",
			Refresh: "/auth/refresh",
			Logout:  "/auth/logout",
			Health:  "/health",
		},
		Users: make([]OutputUser, len(cfg.Users)),
		Keys: OutputKeys{
			VerificationKeyDERBase64: base64.StdEncoding.EncodeToString(verificationKeyDER),
		},
	}
	for i, user := range cfg.Users {
		contract.Users[i] = OutputUser{Username: user.Username, Password: user.Password}
	}

	if err := json.NewEncoder(os.Stdout).Encode(contract); err != nil {
		log.Fatalf("failed to encode JSON contract: %v\n", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- http.Serve(listener, gw.Router())
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalf("server error: %v\n", err)
	case sig := <-sigChan:
		log.Printf("received signal %v, shutting down\n", sig)
	}
}

func parseFlags() Config {
	var cfg Config
	var users userFlag

	pflag.StringVar(&cfg.ListenAddr, "listen", "127.0.0.1:0", "listen address (default uses an ephemeral port)")
	pflag.StringVar(&cfg.Issuer, "issuer", gatewaytest.DefaultIssuer, "issuer claim for access tokens")
	pflag.DurationVar(&cfg.AccessLifetime, "access-lifetime", gatewaytest.DefaultAccessLifetime, "access token lifetime")
	pflag.DurationVar(&cfg.RefreshLifetime, "refresh-lifetime", gatewaytest.DefaultRefreshLifetime, "renewal cookie lifetime")
	pflag.Var(&users, "user", "user credentials as 'username:password' (repeatable)")
	pflag.BoolVar(&cfg.Quiet, "quiet", false, "suppress log output")

	pflag.Parse()

	if len(users) == 0 {
		cfg.Users = []gatewaytest.User{{Username: gatewaytest.DefaultUsername, Password: gatewaytest.DefaultPassword}}
	} else {
		cfg.Users = users
	}

	return cfg
}
