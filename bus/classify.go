package bus

import (
	"github.com/HomoYouDidnt/kloros-sub007/envelope"
)

// Classifier re-routes an envelope at the producer boundary, before
// transport dispatch. It is a pure function of the envelope, so routing
// policy stays testable on its own and the transports remain
// channel-pure. Returning an invalid channel leaves the envelope on the
// channel it arrived with.
type Classifier func(env envelope.Envelope) envelope.Channel

// PromoteUrgent promotes broadcasts at or above the intensity threshold
// to the acknowledged channel, so urgent traffic gets delivery
// confirmation instead of best-effort fan-out. Everything else keeps
// its channel.
func PromoteUrgent(threshold float64) Classifier {
	return func(env envelope.Envelope) envelope.Channel {
		if env.Channel == envelope.ChannelAffect && env.Intensity >= threshold {
			return envelope.ChannelReflex
		}
		return env.Channel
	}
}

// ChainClassifiers applies classifiers in order, each seeing the
// previous one's routing decision.
func ChainClassifiers(classifiers ...Classifier) Classifier {
	return func(env envelope.Envelope) envelope.Channel {
		for _, c := range classifiers {
			if c == nil {
				continue
			}
			if ch := c(env); ch.Valid() {
				env = env.WithChannel(ch)
			}
		}
		return env.Channel
	}
}
