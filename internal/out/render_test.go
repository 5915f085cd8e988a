package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/MoseikiApp/peasy-ai/internal/config"
	"github.com/MoseikiApp/peasy-ai/internal/model"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []model.TokenInfo{{Symbol: "USDC", Address: "0x8335", Decimals: 6}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"symbol"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(out) != 1 || out[0]["symbol"] != "USDC" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if _, ok := out[0]["decimals"]; ok {
		t.Fatalf("field projection failed: %s", buf.String())
	}
}

func TestRenderPlain(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []model.ChainInfo{{Name: "Base", Slug: "base", ChainID: 8453}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "plain", ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "slug=base") {
		t.Fatalf("unexpected plain output: %s", buf.String())
	}
}

func TestRenderPlainReply(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data: model.Reply{
			Action:   "getWalletBalanceForAllCoins",
			Reply:    "Your wallet balances: \r\nETH: 1 (1.00 USD)",
			Progress: []string{"Checking balances"},
		},
		Meta: model.EnvelopeMeta{Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain", ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := "Checking balances\nYour wallet balances: \nETH: 1 (1.00 USD)\n"
	if buf.String() != want {
		t.Fatalf("unexpected reply output: %q", buf.String())
	}
}
