package gateway

import (
	"github.com/firasghr/pibox-server/offload"
	"github.com/firasghr/pibox-server/protocol"
)

func capabilitiesFromMessage(msg protocol.CapabilitiesMessage) offload.Capabilities {
	return offload.Capabilities{
		CPUCores:              msg.CPUCores,
		HasGPU:                msg.HasGPU,
		RAMFreeMB:             msg.RAMFreeMB,
		OnACPower:             msg.OnACPower,
		CanGenerateThumbnails: msg.CanGenerateThumbnails,
		CanSearchLocally:      msg.CanSearchLocally,
		CanCompress:           msg.CanCompress,
	}
}
