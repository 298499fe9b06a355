package types

import (
	"strings"
)

type DictionaryItem struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

type DictionaryItems []DictionaryItem

// ParseDictionaryItems parses "key=value" pairs; pairs without "=" are
// interpreted as keys with an empty value.
func ParseDictionaryItems(pairs []string) DictionaryItems {
	var result DictionaryItems
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		result = append(result, DictionaryItem{Key: k, Value: v})
	}
	return result
}
