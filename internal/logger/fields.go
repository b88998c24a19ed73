package logger

import (
	"time"

	"go.uber.org/zap"

	"ridelink/internal/types"
)

// Field aliases zap.Field so callers only import this package.
type Field = zap.Field

func String(key, val string) Field { return zap.String(key, val) }

func Err(err error) Field { return zap.Error(err) }

func Int(key string, val int) Field { return zap.Int(key, val) }

func Float64(key string, val float64) Field { return zap.Float64(key, val) }

func Bool(key string, val bool) Field { return zap.Bool(key, val) }

func Duration(key string, val time.Duration) Field { return zap.Duration(key, val) }

func Any(key string, val interface{}) Field { return zap.Any(key, val) }

// RideID and DriverID keep key names consistent across modules.
func RideID(id types.ID) Field { return zap.String("ride_id", string(id)) }

func DriverID(id types.ID) Field { return zap.String("driver_id", string(id)) }

func UserID(id types.ID) Field { return zap.String("user_id", string(id)) }
