package whiskers

// TDS packet types. Every packet starts with an 8 byte header: type, status,
// big-endian length, SPID, sequence number and a window byte (always 0).
type packetType uint8

const (
	packSQLBatch    packetType = 1
	packRPCRequest  packetType = 3
	packReply       packetType = 4
	packAttention   packetType = 6
	packBulkLoadBCP packetType = 7
	packTransMgrReq packetType = 14
	packNormal      packetType = 15
	packLogin7      packetType = 16
	packSSPIMessage packetType = 17
	packPrelogin    packetType = 18
)

func (t packetType) String() string {
	switch t {
	case packSQLBatch:
		return "SQLBatch"
	case packRPCRequest:
		return "RPCRequest"
	case packReply:
		return "Reply"
	case packAttention:
		return "Attention"
	case packBulkLoadBCP:
		return "BulkLoad"
	case packTransMgrReq:
		return "TransMgrReq"
	case packNormal:
		return "Normal"
	case packLogin7:
		return "Login7"
	case packSSPIMessage:
		return "SSPIMessage"
	case packPrelogin:
		return "Prelogin"
	}
	return "Unknown"
}

// Packet status bits.
const (
	packStatusEOM             = 0x01 // last packet of the message
	packStatusIgnore          = 0x02 // sent with EOM to discard the request
	packStatusResetConnection = 0x08
)

const packetHeaderSize = 8
