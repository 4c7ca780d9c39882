// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package vnc implements the server side of the RFB (VNC) protocol, version
// 3.3, for exposing a Go application's rendered surface to VNC viewers.
//
// It speaks the protocol subset a viewer needs to see a live picture and
// drive keyboard/mouse input: the None and VNC-Authentication security
// types, Raw and Tight-JPEG framebuffer encodings, and the Cursor and
// DesktopSize pseudo-encodings. RFB ≥ 3.7 security negotiation, TLS
// (VeNCrypt), clipboard transfer, and the CopyRect/RRE/Hextile/ZRLE/ZlibHex
// encoders are out of scope.
//
// # Basic usage
//
//	source := vnc.NewSyntheticFramebufferSource(1024, 768)
//	dispatcher := vnc.NewServerDispatcher(source, nil,
//		vnc.WithDispatcherDesktopName("demo"),
//		vnc.WithTickInterval(30*time.Millisecond),
//	)
//
//	ln, err := net.Listen("tcp", ":5900")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	if err := dispatcher.Serve(ctx, ln); err != nil {
//		log.Fatal(err)
//	}
//
// # Supplying frames
//
// ServerDispatcher never renders anything itself; it polls a
// FramebufferSource once per tick and fans the result out to every attached
// ClientSession. Host applications implement FramebufferSource over
// whatever they actually render, bumping Framebuffer.Version whenever the
// pixels change so each attached client's dirty flag is derived correctly
// regardless of how many other clients are also connected.
//
// # Receiving input
//
// Translated keyboard and pointer events are delivered through the
// InputSink passed to NewServerDispatcher: HandleKey receives a Translation
// (an AbstractKey plus any printable/control text), HandlePointer receives
// a PointerTranslation (Press/Release/Move/Wheel, per spec §4.3).
//
// # Authentication
//
// A non-empty password enables VNC Authentication (DES-based
// challenge-response); an empty password offers the None security type.
// ServerConfig.Authenticator and WithDispatcherAuth/WithSessionAuth wire
// this in.
package vnc
