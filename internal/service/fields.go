package service

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

func parseDecimalField(field string, n json.Number) (decimal.Decimal, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, invalidInput(field, field+" must be a number")
	}
	return d, nil
}

func parseIntField(field string, n json.Number) (int64, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, nil
	}
	v, err := n.Int64()
	if err != nil {
		return 0, invalidInput(field, field+" must be a whole number")
	}
	return v, nil
}
