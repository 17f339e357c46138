// JSON转换辅助工具
package utils

import (
	"encoding/json"
	"fmt"
)

// JSONToStringSlice JSON数组字符串转字符串切片，空串视为空数组
func JSONToStringSlice(s string) ([]string, error) {
	if s == "" {
		return []string{}, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("failed to parse json array: %w", err)
	}
	return items, nil
}
