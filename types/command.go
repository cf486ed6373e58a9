package types

// ---- Command packets from the communication node ----

// CommandType selects the operation. Values are on the wire; never renumber.
type CommandType uint8

const (
	CmdSetTemperature  CommandType = 0x01 // boiler id + float32 °C
	CmdSetPID          CommandType = 0x02 // boiler id + 3 gains (milli-units)
	CmdBrewStart       CommandType = 0x03
	CmdBrewStop        CommandType = 0x04
	CmdSetMode         CommandType = 0x05 // MachineMode
	CmdGetConfig       CommandType = 0x06
	CmdSetConfig       CommandType = 0x07 // full config record payload
	CmdGetEnvLimits    CommandType = 0x08
	CmdSetEnvLimits    CommandType = 0x09 // 2 × float32
	CmdCleanStart      CommandType = 0x0A
	CmdCleanStop       CommandType = 0x0B
	CmdCleanReset      CommandType = 0x0C
	CmdCleanThreshold  CommandType = 0x0D // uint32
	CmdSetStrategy     CommandType = 0x0E // HeatingStrategy
	CmdSafetyReset     CommandType = 0x0F
	CmdEnterBootloader CommandType = 0x10
)

// Command is a decoded inbound packet. Payload layout depends on Type.
type Command struct {
	Type    CommandType
	Seq     uint16
	Payload []byte
}

// AckStatus mirrors the outcome back to the sender, keyed by Seq.
type AckStatus uint8

const (
	AckSuccess AckStatus = iota
	AckInvalidArgument
	AckRejected
	AckTimeout
	AckFailed
)

type Ack struct {
	Seq     uint16
	Status  AckStatus
	Payload []byte // command-specific reply data (e.g. get-config)
}
