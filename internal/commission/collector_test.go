package commission

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/MoseikiApp/peasy-ai/internal/config"
	"github.com/MoseikiApp/peasy-ai/internal/execution"
	"github.com/MoseikiApp/peasy-ai/internal/execution/signer"
	"github.com/MoseikiApp/peasy-ai/internal/providers/coinbase"
)

type fixedRate struct {
	rate decimal.Decimal
	err  error
}

func (f fixedRate) Spot(context.Context, string, string) (coinbase.Rate, error) {
	return coinbase.Rate{Rate: f.rate}, f.err
}

type fakeSubmitter struct {
	submitErr error
	status    uint64
	waitErr   error
	sent      []execution.TxRequest
}

func (f *fakeSubmitter) Submit(_ context.Context, _ signer.Signer, req execution.TxRequest) (*types.Transaction, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.sent = append(f.sent, req)
	return types.NewTx(&types.DynamicFeeTx{ChainID: big.NewInt(8453), To: &req.To, Value: req.Value, Data: req.Data}), nil
}

func (f *fakeSubmitter) WaitMined(context.Context, common.Hash, time.Duration) (*types.Receipt, error) {
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	return &types.Receipt{Status: f.status}, nil
}

func settings() config.CommissionSettings {
	return config.CommissionSettings{
		Wallet:      "0x00000000000000000000000000000000000000cc",
		TargetUSD:   decimal.RequireFromString("0.0025"),
		MinNative:   decimal.RequireFromString("0.0000005"),
		MaxNative:   decimal.RequireFromString("0.00001"),
		DefaultRate: decimal.RequireFromString("2500"),
		Timeout:     time.Second,
	}
}

func TestNativeFeeClamp(t *testing.T) {
	s := settings()
	tests := []struct {
		name string
		rate string
		want string
	}{
		{name: "zero rate charges max", rate: "0", want: "0.00001"},
		{name: "negative rate charges max", rate: "-5", want: "0.00001"},
		{name: "huge rate floors at min", rate: "1000000000", want: "0.0000005"},
		{name: "in band", rate: "2500", want: "0.000001"},
		{name: "cheap eth caps at max", rate: "100", want: "0.00001"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NativeFee(s.TargetUSD, decimal.RequireFromString(tc.rate), s.MinNative, s.MaxNative)
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestQuoteFallsBackToDefaultRate(t *testing.T) {
	c := New(fixedRate{err: errors.New("down")}, nil, settings(), nil, nil)
	got := c.Quote(context.Background())
	if !got.RateUSD.Equal(decimal.RequireFromString("2500")) || !got.Native.Equal(decimal.RequireFromString("0.000001")) {
		t.Fatalf("unexpected quote %+v", got)
	}
	if got.Wei.String() != "1000000000000" {
		t.Fatalf("unexpected wei %s", got.Wei)
	}
}

func TestCollectSendsMemoTransfer(t *testing.T) {
	sub := &fakeSubmitter{status: types.ReceiptStatusSuccessful}
	c := New(fixedRate{rate: decimal.RequireFromString("2500")}, sub, settings(), nil, nil)
	res := c.Collect(context.Background(), nil)
	if res.Err != nil {
		t.Fatalf("Collect failed: %v", res.Err)
	}
	if !res.AmountPaidNative.Equal(decimal.RequireFromString("0.000001")) || res.TxHash == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(sub.sent) != 1 || string(sub.sent[0].Data) != "Peasy - Swap Commission" {
		t.Fatalf("unexpected commission tx %+v", sub.sent)
	}
}

func TestCollectFailuresPayNothing(t *testing.T) {
	tests := []struct {
		name string
		sub  *fakeSubmitter
		cfg  func(*config.CommissionSettings)
	}{
		{name: "submit error", sub: &fakeSubmitter{submitErr: errors.New("insufficient funds")}},
		{name: "wait timeout", sub: &fakeSubmitter{waitErr: errors.New("timeout")}},
		{name: "reverted", sub: &fakeSubmitter{status: types.ReceiptStatusFailed}},
		{name: "no wallet", sub: &fakeSubmitter{status: 1}, cfg: func(s *config.CommissionSettings) { s.Wallet = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := settings()
			if tc.cfg != nil {
				tc.cfg(&s)
			}
			res := New(fixedRate{rate: decimal.RequireFromString("2500")}, tc.sub, s, nil, nil).Collect(context.Background(), nil)
			if res.Err == nil || !res.AmountPaidNative.IsZero() {
				t.Fatalf("expected zero-paid failure, got %+v", res)
			}
		})
	}
}
