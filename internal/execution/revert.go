package execution

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
)

var (
	errorStringSelector = common.FromHex("0x08c379a0")
	panicSelector       = common.FromHex("0x4e487b71")
)

// RevertReason extracts a human revert reason from a node error, or "".
func RevertReason(err error) string {
	return decodeRevertFromError(err)
}

// IsInsufficientFunds reports node rejections caused by a short balance.
func IsInsufficientFunds(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "transfer amount exceeds balance")
}

// IsReverted reports execution reverts surfaced by estimate or broadcast.
func IsReverted(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

func wrapEVMExecutionError(code clierr.Code, message string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		return clierr.Wrap(code, fmt.Sprintf("%s: %s", message, reason), err)
	}
	return clierr.Wrap(code, message, err)
}

func decodeRevertFromError(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	var raw []byte
	switch v := dataErr.ErrorData().(type) {
	case string:
		decoded, decErr := hexutil.Decode(v)
		if decErr != nil {
			return ""
		}
		raw = decoded
	case []byte:
		raw = v
	default:
		return ""
	}
	return decodeRevertData(raw)
}

func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	switch {
	case bytes.Equal(data[:4], errorStringSelector):
		reason, err := abi.UnpackRevert(data)
		if err != nil {
			return ""
		}
		return reason
	case bytes.Equal(data[:4], panicSelector):
		reason, err := abi.UnpackRevert(data)
		if err != nil {
			return "panic"
		}
		return reason
	default:
		return fmt.Sprintf("custom error %s", hexutil.Encode(data[:4]))
	}
}
