package snmp

import "errors"

var (
	ErrNilTargetConfig    = errors.New("target configuration is nil")
	ErrTargetHostRequired = errors.New("target host is required")
	ErrTargetOIDRequired  = errors.New("target oid is required")
	ErrSNMPConnect        = errors.New("SNMP connect failed")
	ErrSNMPGet            = errors.New("SNMP get failed")
	ErrSNMPNoSuchObject   = errors.New("SNMP NoSuchObject")
	ErrSNMPNoSuchInstance = errors.New("SNMP NoSuchInstance")
	ErrSNMPEmptyResponse  = errors.New("SNMP response contained no variables")
	ErrUnsupportedType    = errors.New("unsupported SNMP type")
)
