package dcn_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/kingrea/dcnsuite/internal/dcn"
	"github.com/kingrea/dcnsuite/internal/dcn/dcntest"
	"github.com/kingrea/dcnsuite/internal/notes"
)

func newClient(t *testing.T, srv *dcntest.Server) *dcn.Client {
	t.Helper()
	signer, err := dcn.GenerateKeySigner()
	if err != nil {
		t.Fatalf("GenerateKeySigner returned error: %v", err)
	}
	client, err := dcn.New(srv.URL(), signer)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return client
}

func TestSignerRoundTrip(t *testing.T) {
	signer, err := dcn.NewKeySigner("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("NewKeySigner returned error: %v", err)
	}
	if signer.Address() != "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23" {
		t.Fatalf("unexpected address %s", signer.Address())
	}
	sig, err := signer.SignText("Login nonce: 42")
	if err != nil {
		t.Fatalf("SignText returned error: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 132 {
		t.Fatalf("unexpected signature %s", sig)
	}
	addr, err := dcn.RecoverAddress("Login nonce: 42", sig)
	if err != nil || addr != signer.Address() {
		t.Fatalf("expected recovered address %s, got %s (%v)", signer.Address(), addr, err)
	}
	if _, err := dcn.NewKeySigner(""); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestFeatureParticleExecuteFlow(t *testing.T) {
	srv := dcntest.NewServer(t)
	client := newClient(t, srv)
	ctx := context.Background()

	feature := dcn.Feature{Name: "waltz_u0", Dimensions: []dcn.Dimension{{Transformations: []dcn.Transformation{{Name: "add", Args: []int{1}}}}}}
	if _, err := client.PostFeature(ctx, feature); err != nil {
		t.Fatalf("PostFeature returned error: %v", err)
	}
	if _, err := client.PostParticle(ctx, dcn.NewParticle("waltz_u0_p", "waltz_u0")); err != nil {
		t.Fatalf("PostParticle returned error: %v", err)
	}
	samples, err := client.Execute(ctx, dcn.ExecuteRequest{
		ParticleName:     "waltz_u0_p",
		SamplesCount:     4,
		RunningInstances: []notes.RunningInstance{{StartPoint: 0}},
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(samples) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(samples))
	}
	if srv.Calls("POST /auth") != 1 {
		t.Fatalf("expected a single login, got %d", srv.Calls("POST /auth"))
	}
}

func TestReauthenticatesOnceOn401(t *testing.T) {
	srv := dcntest.NewServer(t)
	client := newClient(t, srv)
	ctx := context.Background()
	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	srv.ExpireTokens()

	if err := client.CreateTransformation(ctx, "pow", "return x;"); err != nil {
		t.Fatalf("CreateTransformation returned error: %v", err)
	}
	if srv.Calls("POST /auth") != 2 || srv.Calls("POST /transformation") != 2 {
		t.Fatalf("expected one re-auth and one retry, got auth=%d post=%d", srv.Calls("POST /auth"), srv.Calls("POST /transformation"))
	}
	if !srv.HasTransformation("pow") {
		t.Fatalf("expected transformation to be created")
	}
}

func TestHasTransformation(t *testing.T) {
	srv := dcntest.NewServer(t)
	client := newClient(t, srv)
	ctx := context.Background()
	srv.RemoveTransformation("div")

	ok, err := client.HasTransformation(ctx, "add")
	if err != nil || !ok {
		t.Fatalf("expected add present, got %v %v", ok, err)
	}
	ok, err = client.HasTransformation(ctx, "div")
	if err != nil || ok {
		t.Fatalf("expected div missing, got %v %v", ok, err)
	}
	srv.Force("/transformation", http.StatusBadGateway)
	_, err = client.HasTransformation(ctx, "add")
	var statusErr *dcn.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadGateway {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestExecuteRejectsNonArray(t *testing.T) {
	srv := dcntest.NewServer(t)
	client := newClient(t, srv)
	ctx := context.Background()
	srv.SetExecute(func(dcn.ExecuteRequest) (int, any) {
		return http.StatusOK, map[string]string{"oops": "object"}
	})
	feature := dcn.Feature{Name: "f", Dimensions: []dcn.Dimension{{Transformations: []dcn.Transformation{{Name: "add", Args: []int{1}}}}}}
	if _, err := client.PostFeature(ctx, feature); err != nil {
		t.Fatal(err)
	}
	if _, err := client.PostParticle(ctx, dcn.NewParticle("p", "f")); err != nil {
		t.Fatal(err)
	}
	_, err := client.Execute(ctx, dcn.ExecuteRequest{ParticleName: "p", SamplesCount: 1})
	if err == nil || !strings.Contains(err.Error(), "unexpected /execute response shape") {
		t.Fatalf("expected shape error, got %v", err)
	}
}

func TestPostFeatureSurfacesStatusError(t *testing.T) {
	srv := dcntest.NewServer(t)
	client := newClient(t, srv)
	_, err := client.PostFeature(context.Background(), dcn.Feature{Name: "empty"})
	var statusErr *dcn.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 status error, got %v", err)
	}
}
