// internal/worldstate/schema.go
package worldstate

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// worldUpdateSchema 约束 world_update 载荷的最小结构。
// 校验失败的消息按条丢弃并记日志，不中断连接。
const worldUpdateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["day", "hour", "is_running", "agents"],
  "properties": {
    "session_id": {"type": "string"},
    "day": {"type": "integer", "minimum": 0},
    "hour": {"type": "integer", "minimum": 0, "maximum": 23},
    "minute": {"type": "integer", "minimum": 0, "maximum": 59},
    "is_running": {"type": "boolean"},
    "agents": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["agent_id", "name", "position"],
        "properties": {
          "agent_id": {"type": "string"},
          "name": {"type": "string"},
          "position": {
            "type": "array",
            "items": {"type": "integer"},
            "minItems": 2,
            "maxItems": 2
          }
        }
      }
    },
    "agent_prompts": {"type": "object"}
  }
}`

var compiledWorldUpdateSchema = jsonschema.MustCompileString("world_update.json", worldUpdateSchema)

// validateWorldUpdate 校验 world_update 载荷结构
func validateWorldUpdate(payload json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("载荷不是合法 JSON: %w", err)
	}
	if err := compiledWorldUpdateSchema.Validate(doc); err != nil {
		return fmt.Errorf("载荷不符合 world_update 结构: %w", err)
	}
	return nil
}
