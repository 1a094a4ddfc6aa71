package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	platformgrpc "github.com/louisbranch/askmi/internal/platform/grpc"
	"github.com/louisbranch/askmi/internal/services/escrow/ledger"
	"github.com/louisbranch/askmi/internal/services/escrow/session"
	"github.com/louisbranch/askmi/internal/services/escrow/storage"
	escrowsqlite "github.com/louisbranch/askmi/internal/services/escrow/storage/sqlite"
)

var owner = common.HexToAddress("0x0000000000000000000000000000000000000a0a")

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 8095 || cfg.HealthPort != 8096 {
		t.Fatalf("ports = %d/%d", cfg.HTTPPort, cfg.HealthPort)
	}
	if cfg.factoryAddress() != DefaultFactoryAddress {
		t.Fatalf("factory address = %s", cfg.factoryAddress().Hex())
	}
	if _, ok, err := cfg.bootstrapParams(); ok || err != nil {
		t.Fatalf("bootstrap without owner = %v, %v", ok, err)
	}
	policy, err := cfg.tipPolicy()
	if err != nil || policy != ledger.TipOpenOnly {
		t.Fatalf("tip policy = %v, %v", policy, err)
	}
}

func TestBootstrapParams(t *testing.T) {
	t.Setenv("ASKMI_OWNER", owner.Hex())
	t.Setenv("ASKMI_INITIAL_TIERS", "0.5, 2")
	t.Setenv("ASKMI_TIP_AMOUNT", "0.25")
	t.Setenv("ASKMI_NATIVE_DECIMALS", "6")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	params, ok, err := cfg.bootstrapParams()
	if err != nil || !ok {
		t.Fatalf("bootstrap params = %v, %v", ok, err)
	}
	if params.FeeRecipient != owner {
		t.Fatalf("fee recipient = %s, want owner", params.FeeRecipient.Hex())
	}
	if len(params.InitialTiers) != 2 || params.InitialTiers[0].Uint64() != 500000 || params.InitialTiers[1].Uint64() != 2000000 {
		t.Fatalf("tiers = %v", params.InitialTiers)
	}
	if params.TipAmount.Uint64() != 250000 {
		t.Fatalf("tip = %d", params.TipAmount.Uint64())
	}

	t.Setenv("ASKMI_INITIAL_TIERS", "0.0000001")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if _, _, err := cfg.bootstrapParams(); err == nil {
		t.Fatal("expected too many fractional digits error")
	}
}

func TestSessionsFromConfig(t *testing.T) {
	seed := bytes.Repeat([]byte{9}, ed25519.SeedSize)
	t.Setenv("ASKMI_SESSION_SIGNING_KEY", base64.StdEncoding.EncodeToString(seed))
	t.Setenv("ASKMI_SESSION_TTL", "10m")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SessionTTL != 10*time.Minute {
		t.Fatalf("session ttl = %v", cfg.SessionTTL)
	}
	first, err := cfg.sessions()
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	second, err := cfg.sessions()
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	token, err := first.Issue(owner)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	// A configured key survives restarts.
	got, err := second.Verify(token.Value)
	if err != nil || got != owner {
		t.Fatalf("verify across managers = %s, %v", got.Hex(), err)
	}

	t.Setenv("ASKMI_SESSION_SIGNING_KEY", "c2hvcnQ=")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if _, err := cfg.sessions(); err == nil {
		t.Fatal("expected bad key error")
	}
}

func TestNewRejectsBadTipPolicy(t *testing.T) {
	t.Setenv("ASKMI_TIP_POLICY", "whenever")
	t.Setenv("ASKMI_JOURNAL_DB_PATH", filepath.Join(t.TempDir(), "escrow.db"))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if _, err := NewWithAddrs(context.Background(), cfg, "127.0.0.1:0", "127.0.0.1:0"); err == nil {
		t.Fatal("expected tip policy error")
	}
}

func TestServerServesAPIAndHealth(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "escrow.db")
	t.Setenv("ASKMI_JOURNAL_DB_PATH", dbPath)
	t.Setenv("ASKMI_OWNER", owner.Hex())
	t.Setenv("ASKMI_INITIAL_TIERS", "1,10")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	srv, err := NewWithAddrs(context.Background(), cfg, "127.0.0.1:0", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	bootstrap := srv.Bootstrap()
	if bootstrap == nil {
		t.Fatal("expected bootstrap instance")
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(runCtx) }()
	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		runCancel()
		select {
		case err := <-serveDone:
			if err != nil {
				t.Fatalf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for server shutdown")
		}
	}
	t.Cleanup(stop)

	conn, err := grpc.NewClient(srv.HealthAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial health: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	healthCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := platformgrpc.WaitForHealth(healthCtx, conn, HealthService, t.Logf); err != nil {
		t.Fatalf("wait for health: %v", err)
	}

	base := "http://" + srv.HTTPAddr()
	aliceKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	alice := crypto.PubkeyToAddress(aliceKey.PublicKey)
	post(t, base+"/v1/instances/"+bootstrap.Address().Hex()+"/ask", "", map[string]any{
		"value": "1", "asset": "native", "content_hash": "0x744d7ad0f5893404994e4bfc6af6fb365439d15d7338b7f8ff1b39c5f3593fad",
	}, http.StatusUnauthorized)
	token := login(t, base, aliceKey)
	post(t, base+"/v1/faucet", "", map[string]string{"account": alice.Hex(), "amount": "5000000000000000000"}, http.StatusOK)
	post(t, base+"/v1/instances/"+bootstrap.Address().Hex()+"/ask", token, map[string]any{
		"value":        "1000000000000000000",
		"asset":        "native",
		"content_hash": "0x744d7ad0f5893404994e4bfc6af6fb365439d15d7338b7f8ff1b39c5f3593fad",
		"tier_index":   0,
	}, http.StatusCreated)

	resp, err := http.Get(base + "/v1/instances")
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	var list map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode instances: %v", err)
	}
	resp.Body.Close()
	if got := list["instances"]; len(got) != 1 || got[0] != bootstrap.Address().Hex() {
		t.Fatalf("instances = %v", got)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}

	stop()

	store, err := escrowsqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer store.Close()
	page, err := store.ListEvents(context.Background(), storage.EventFilter{Instance: bootstrap.Address()}, 10, "")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	kinds := make([]string, len(page.Events))
	for i, event := range page.Events {
		kinds[i] = event.Kind
	}
	want := []string{"instance.created", "tiers.updated", "question.asked"}
	if len(kinds) != len(want) {
		t.Fatalf("journal kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("journal kinds = %v, want %v", kinds, want)
		}
	}
}

func login(t *testing.T, base string, key *ecdsa.PrivateKey) string {
	t.Helper()
	account := crypto.PubkeyToAddress(key.PublicKey)
	issuedAt := time.Now().UTC().Truncate(time.Second)
	sig, err := crypto.Sign(accounts.TextHash([]byte(session.LoginMessage(account, issuedAt))), key)
	if err != nil {
		t.Fatalf("sign login: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	payload := post(t, base+"/v1/sessions", "", map[string]string{
		"account":   account.Hex(),
		"issued_at": issuedAt.Format(time.RFC3339),
		"signature": hexutil.Encode(sig),
	}, http.StatusCreated)
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return out.Token
}

func post(t *testing.T, url, token string, body any, want int) []byte {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	var payload bytes.Buffer
	_, _ = payload.ReadFrom(resp.Body)
	if resp.StatusCode != want {
		t.Fatalf("post %s status = %d, want %d: %s", url, resp.StatusCode, want, payload.String())
	}
	return payload.Bytes()
}
