package domain

import "time"

// Frame — иммутабельный снимок состояния процесса, производится тикером.
// После создания не мутируется; владеет им Ring Buffer до момента вычитки.
type Frame struct {
	SequenceID uint64                 `json:"sequence_id"` // Строго монотонный, без дырок (кроме учтенных дропов)
	Timestamp  time.Time              `json:"timestamp"`
	Payload    map[string]interface{} `json:"payload"`
}
