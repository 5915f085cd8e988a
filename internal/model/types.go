package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
}

type ChainInfo struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	CAIP2        string `json:"caip2"`
	ChainID      int64  `json:"chain_id"`
	NativeSymbol string `json:"native_symbol"`
	Default      bool   `json:"default"`
}

type TokenInfo struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	AssetID  string `json:"asset_id"`
	Stable   bool   `json:"stable"`
}

// WalletView never carries key material.
type WalletView struct {
	UserID    string    `json:"user_id"`
	Address   string    `json:"address"`
	Network   string    `json:"network"`
	Currency  string    `json:"currency"`
	Created   bool      `json:"created"`
	CreatedAt time.Time `json:"created_at"`
}

// Reply is the rendered answer of a chat intent.
type Reply struct {
	Action   string   `json:"action"`
	Reply    string   `json:"reply"`
	Progress []string `json:"progress,omitempty"`
}
