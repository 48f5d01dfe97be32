package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// DefaultTokenListPath is where the discovery token list is read from.
const DefaultTokenListPath = "tokens/tokenlist.json"

// TokenList reads a token list in the common {"tokens": [...]} format and
// keeps the entries for one chain.
type TokenList struct {
	reader  domain.BlobReader
	path    string
	chainID int64
}

// NewTokenList creates a TokenList reading path from reader.
func NewTokenList(reader domain.BlobReader, path string, chainID int64) *TokenList {
	if path == "" {
		path = DefaultTokenListPath
	}
	return &TokenList{reader: reader, path: path, chainID: chainID}
}

type tokenListFile struct {
	Tokens []struct {
		ChainID  int64  `json:"chainId"`
		Address  string `json:"address"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"tokens"`
}

// Tokens downloads and filters the list. A path ending in "/" is a prefix:
// every .json object under it is read and the entries merged, first
// occurrence of an address winning. A missing single list yields no tokens.
// Malformed addresses are skipped.
func (t *TokenList) Tokens(ctx context.Context) ([]domain.Token, error) {
	if !strings.HasSuffix(t.path, "/") {
		ok, err := t.reader.Exists(ctx, t.path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return t.read(ctx, t.path, nil)
	}

	infos, err := t.reader.List(ctx, t.path)
	if err != nil {
		return nil, err
	}
	seen := make(map[common.Address]bool)
	var out []domain.Token
	for _, info := range infos {
		if !strings.HasSuffix(info.Path, ".json") {
			continue
		}
		toks, err := t.read(ctx, info.Path, seen)
		if err != nil {
			return nil, err
		}
		out = append(out, toks...)
	}
	return out, nil
}

func (t *TokenList) read(ctx context.Context, path string, seen map[common.Address]bool) ([]domain.Token, error) {
	body, err := t.reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var file tokenListFile
	if err := json.NewDecoder(body).Decode(&file); err != nil {
		return nil, fmt.Errorf("s3blob: decode token list %s: %w", path, err)
	}

	out := make([]domain.Token, 0, len(file.Tokens))
	for _, e := range file.Tokens {
		if t.chainID != 0 && e.ChainID != t.chainID {
			continue
		}
		if !common.IsHexAddress(e.Address) {
			continue
		}
		addr := common.HexToAddress(e.Address)
		if seen != nil {
			if seen[addr] {
				continue
			}
			seen[addr] = true
		}
		out = append(out, domain.Token{
			Address:  addr,
			Symbol:   strings.TrimSpace(e.Symbol),
			Decimals: e.Decimals,
		})
	}
	return out, nil
}
