package preflight

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/kingrea/dcnsuite/internal/dcn"
	"github.com/kingrea/dcnsuite/internal/dcn/dcntest"
)

func newClient(t *testing.T, srv *dcntest.Server) *dcn.Client {
	t.Helper()
	signer, err := dcn.GenerateKeySigner()
	if err != nil {
		t.Fatal(err)
	}
	client, err := dcn.New(srv.URL(), signer)
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestRunPassesAgainstHealthyService(t *testing.T) {
	srv := dcntest.NewServer(t)
	report, err := Run(context.Background(), newClient(t, srv), Options{AutoBootstrap: true})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(report.Created) != 0 {
		t.Fatalf("expected nothing created, got %v", report.Created)
	}
	if len(report.Probes) != 3 {
		t.Fatalf("expected three probes, got %+v", report.Probes)
	}
	for _, p := range report.Probes {
		if p.Status != http.StatusBadRequest {
			t.Fatalf("expected probe to be rejected as invalid, got %+v", p)
		}
	}
}

func TestRunBootstrapsMissingTransformations(t *testing.T) {
	srv := dcntest.NewServer(t)
	srv.RemoveTransformation("mul")
	srv.RemoveTransformation("div")

	report, err := Run(context.Background(), newClient(t, srv), Options{AutoBootstrap: true})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if strings.Join(report.Created, ",") != "div,mul" {
		t.Fatalf("expected div and mul created, got %v", report.Created)
	}
	if !srv.HasTransformation("div") || !srv.HasTransformation("mul") {
		t.Fatalf("expected server to hold created transformations")
	}
}

func TestRunFailsFastWithoutBootstrap(t *testing.T) {
	srv := dcntest.NewServer(t)
	srv.RemoveTransformation("add")
	srv.RemoveTransformation("subtract")

	_, err := Run(context.Background(), newClient(t, srv), Options{AutoBootstrap: false})
	if !errors.Is(err, ErrPreflight) {
		t.Fatalf("expected ErrPreflight, got %v", err)
	}
	if !strings.Contains(err.Error(), "add, subtract") {
		t.Fatalf("expected every missing name listed, got %v", err)
	}
	if srv.Calls("POST /transformation") != 0 || srv.Calls("POST /feature") != 0 {
		t.Fatalf("expected no writes to the service")
	}
}

func TestRunFailsOnUnexpectedProbeStatus(t *testing.T) {
	srv := dcntest.NewServer(t)
	srv.Force("/particle", http.StatusNotFound)

	_, err := Run(context.Background(), newClient(t, srv), Options{AutoBootstrap: true})
	if !errors.Is(err, ErrPreflight) || !strings.Contains(err.Error(), "/particle: status=404") {
		t.Fatalf("expected particle probe failure, got %v", err)
	}
	if !strings.Contains(err.Error(), `"feature_name":"my_feature"`) {
		t.Fatalf("expected sample payload in error, got %v", err)
	}
}

type failingAuth struct{ Service }

func (failingAuth) Authenticate(context.Context) error { return errors.New("bad key") }

func TestRunFailsOnAuthentication(t *testing.T) {
	_, err := Run(context.Background(), failingAuth{}, Options{})
	if !errors.Is(err, ErrPreflight) || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("expected auth failure, got %v", err)
	}
}
