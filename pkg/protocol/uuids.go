package protocol

// GATT identifiers of the contact exchange. Peripherals advertise ServiceUUID; centrals filter
// scans on it and exchange Payloads over ContactCharacteristicUUID.
const (
	ServiceUUID               = "c3b06a3e-6c67-4fd1-8b0e-1a5cdd5a5f00"
	ContactCharacteristicUUID = "c3b06a3e-6c67-4fd1-8b0e-1a5cdd5a5f01"
)
