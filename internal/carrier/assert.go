package carrier

import "github.com/birddigital/callbridge/internal/bridge"

var _ bridge.CarrierSink = (*Stream)(nil)
