// Package rib implements the management-RPC client that the Face uses
// to register, unregister and announce prefixes on the forwarder's RIB.
package rib

import (
	"crypto/rand"
	"fmt"
	"time"

	enc "github.com/named-data/ndnd/std/encoding"
	"github.com/named-data/ndnd/std/log"
	"github.com/named-data/ndnd/std/ndn"
	mgmt "github.com/named-data/ndnd/std/ndn/mgmt_2022"
	spec "github.com/named-data/ndnd/std/ndn/spec_2022"
	sig "github.com/named-data/ndnd/std/security/signer"
	"github.com/named-data/ndnd/std/types/optional"
	"github.com/named-data/ndnd/std/utils"

	"github.com/named-data/appface/sched"
)

const DefaultCommandTimeout = 1 * time.Second

// CommandFailure is a non-200 ControlResponse from the forwarder.
type CommandFailure struct {
	Code uint64
	Text string
}

func (e CommandFailure) Error() string {
	return fmt.Sprintf("command failed due to error %d: %s", e.Code, e.Text)
}

// Sender expresses command Interests on behalf of the Controller.
// The callback must be invoked on the Face event loop.
type Sender interface {
	Express(interest *ndn.EncodedInterest, callback ndn.ExpressCallbackFunc) error
}

// CommandOptions carries the per-command knobs of a management RPC.
type CommandOptions struct {
	// Signer signs the command Interest. Defaults to SHA-256.
	Signer ndn.Signer
	// Timeout is the per-attempt Interest lifetime.
	Timeout time.Duration
	// Retries is the number of extra attempts after a timeout.
	Retries int
}

func (o CommandOptions) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultCommandTimeout
}

func (o CommandOptions) signer() ndn.Signer {
	if o.Signer != nil {
		return o.Signer
	}
	return sig.NewSha256Signer()
}

// Controller issues management commands to the forwarder through a
// Sender and parses the signed ControlResponse replies.
type Controller struct {
	sender  Sender
	clock   sched.Clock
	local   bool
	checker ndn.SigChecker
}

func NewController(sender Sender, clock sched.Clock, local bool) *Controller {
	return &Controller{
		sender:  sender,
		clock:   clock,
		local:   local,
		checker: func(enc.Name, enc.Wire, ndn.Signature) bool { return true },
	}
}

func (c *Controller) String() string {
	return "rib-controller"
}

// SetValidator sets the checker for ControlResponse Data signatures.
func (c *Controller) SetValidator(checker ndn.SigChecker) {
	c.checker = checker
}

// Start issues one management command. onOK receives the parsed response
// on status 200; every other outcome lands in onFail. Timeouts are
// retried up to opts.Retries times.
func (c *Controller) Start(module string, cmd string, args *mgmt.ControlArgs,
	opts CommandOptions, onOK func(*mgmt.ControlResponseVal), onFail func(error)) {

	interest, err := mgmt.NewConfig(c.local, opts.signer(), spec.Spec{}).
		MakeCmd(module, cmd, args, c.interestConfig(opts))
	if err != nil {
		onFail(err)
		return
	}
	c.express(interest, func() {
		// Each retry re-signs with a fresh nonce and timestamp.
		c.Start(module, cmd, args, CommandOptions{
			Signer:  opts.Signer,
			Timeout: opts.Timeout,
			Retries: opts.Retries - 1,
		}, onOK, onFail)
	}, opts.Retries, onOK, onFail)
}

// StartAnnounce issues a rib/announce command carrying the signed
// prefix announcement object in the ApplicationParameters.
func (c *Controller) StartAnnounce(ann Announcement, opts CommandOptions,
	onOK func(*mgmt.ControlResponseVal), onFail func(error)) {

	annWire, err := ann.Encode(opts.signer(), uint64(c.clock.Now().UnixMilli()))
	if err != nil {
		onFail(err)
		return
	}

	name := c.commandPrefix().Append(
		enc.NewGenericComponent("rib"),
		enc.NewGenericComponent("announce"),
	)
	interest, err := spec.Spec{}.MakeInterest(name, c.interestConfig(opts), annWire, opts.signer())
	if err != nil {
		onFail(err)
		return
	}
	c.express(interest, func() {
		c.StartAnnounce(ann, CommandOptions{
			Signer:  opts.Signer,
			Timeout: opts.Timeout,
			Retries: opts.Retries - 1,
		}, onOK, onFail)
	}, opts.Retries, onOK, onFail)
}

func (c *Controller) commandPrefix() enc.Name {
	if c.local {
		return enc.Name{enc.LOCALHOST, enc.NewGenericComponent("nfd")}
	}
	return enc.Name{enc.LOCALHOP, enc.NewGenericComponent("nfd")}
}

func (c *Controller) interestConfig(opts CommandOptions) *ndn.InterestConfig {
	return &ndn.InterestConfig{
		Lifetime:    optional.Some(opts.timeout()),
		Nonce:       utils.ConvertNonce(c.nonce()),
		MustBeFresh: true,

		// NFD rejects command Interests without a signature nonce and time.
		SigNonce: c.nonce(),
		SigTime:  optional.Some(time.Duration(c.clock.Now().UnixMilli()) * time.Millisecond),
	}
}

func (c *Controller) express(interest *ndn.EncodedInterest, retry func(), retries int,
	onOK func(*mgmt.ControlResponseVal), onFail func(error)) {

	err := c.sender.Express(interest, func(args ndn.ExpressCallbackArgs) {
		switch args.Result {
		case ndn.InterestResultData:
			data := args.Data
			if !c.checker(data.Name(), args.SigCovered, data.Signature()) {
				onFail(fmt.Errorf("%w: response signature is not valid", ndn.ErrSecurity))
				return
			}
			res, err := mgmt.ParseControlResponse(enc.NewWireView(data.Content()), true)
			if err != nil {
				onFail(err)
				return
			}
			if res.Val == nil {
				onFail(fmt.Errorf("%w: improper ControlResponse", ndn.ErrProtocol))
				return
			}
			if res.Val.StatusCode != 200 {
				onFail(CommandFailure{Code: res.Val.StatusCode, Text: res.Val.StatusText})
				return
			}
			onOK(res.Val)

		case ndn.InterestResultNack:
			onFail(fmt.Errorf("%w: command nacked with reason %d", ndn.ErrNetwork, args.NackReason))

		case ndn.InterestResultTimeout:
			if retries > 0 {
				log.Debug(c, "Command timed out, retrying", "name", interest.FinalName)
				retry()
				return
			}
			onFail(ndn.ErrDeadlineExceed)

		default:
			onFail(fmt.Errorf("%w: unexpected result %v", ndn.ErrProtocol, args.Result))
		}
	})
	if err != nil {
		onFail(err)
	}
}

func (c *Controller) nonce() []byte {
	buf := make([]byte, 8)
	n, _ := rand.Read(buf)
	return buf[:n]
}
