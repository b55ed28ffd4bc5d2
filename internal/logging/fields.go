package logging

import (
	"time"

	"go.uber.org/zap"
)

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func ClientID(v string) zap.Field  { return zap.String("client_id", v) }
func UserID(v string) zap.Field    { return zap.String("user_id", v) }
func FamilyID(v string) zap.Field  { return zap.String("family_id", v) }
func Tool(v string) zap.Field      { return zap.String("tool", v) }

// Event tags an audit record.
func Event(v string) zap.Field { return zap.String("event", v) }

// HashPrefix logs a short prefix of a token hash, never the token itself.
func HashPrefix(hash string) zap.Field {
	if len(hash) > 12 {
		hash = hash[:12]
	}
	return zap.String("hash_prefix", hash)
}

func Err(err error) zap.Field { return zap.Error(err) }
