package log

import "go.uber.org/zap"

const (
	FieldNameComponent = "component"
	FieldNameSession   = "sessionID"
	FieldNameUser      = "userID"
	FieldNameRoom      = "roomID"
	FieldNameRemote    = "remoteAddr"
)

func FieldComponent(name string) zap.Field { return zap.String(FieldNameComponent, name) }

func FieldSession(id string) zap.Field { return zap.String(FieldNameSession, id) }

func FieldUser(id string) zap.Field { return zap.String(FieldNameUser, id) }

func FieldRoom(id string) zap.Field { return zap.String(FieldNameRoom, id) }

func FieldRemote(addr string) zap.Field { return zap.String(FieldNameRemote, addr) }
