package trustee

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/thechriswalker/go-decide/crypto/elgamal"
	"github.com/thechriswalker/go-decide/voting"
)

const (
	serviceName       = "decide.trustee.v1.Trustee"
	methodTally       = "/" + serviceName + "/Tally"
	methodGenerateKey = "/" + serviceName + "/GenerateKey"
)

// TrusteeServer is the gRPC service a trustee node exposes
type TrusteeServer interface {
	Tally(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GenerateKey(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(TrusteeServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TrusteeServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(TrusteeServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TrusteeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Tally",
			Handler:    unaryHandler(methodTally, TrusteeServer.Tally),
		},
		{
			MethodName: "GenerateKey",
			Handler:    unaryHandler(methodGenerateKey, TrusteeServer.GenerateKey),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "decide/trustee/v1/trustee.proto",
}

// Server exposes a Local trustee to other decide nodes
type Server struct {
	local *Local
}

var _ TrusteeServer = (*Server)(nil)

func NewServer(local *Local) *Server {
	return &Server{local: local}
}

// Register the trustee service on a grpc server
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

func tokenFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get("authorization") {
		for _, prefix := range []string{"Bearer ", "Token "} {
			if strings.HasPrefix(v, prefix) {
				return strings.TrimSpace(v[len(prefix):])
			}
		}
		return strings.TrimSpace(v)
	}
	return ""
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}

func toStatus(err error, what string) error {
	switch {
	case errors.Is(err, ErrInvalidToken):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, ErrUnknownVoting):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, elgamal.ErrEncoding):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	log.Err(err).Msg("Error in trustee " + what)
	return status.Error(codes.Internal, "Something bad happened")
}

func (s *Server) Tally(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := tallyRequestFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	req.Token = tokenFromContext(ctx)
	log.Debug().Int64("voting", req.VotingID).Str("peer", peerAddr(ctx)).Int("ballots", len(req.Ciphertexts)).Msg("tally requested")
	res, err := s.local.Tally(ctx, req)
	if err != nil {
		return nil, toStatus(err, "Tally")
	}
	return tallyResultToStruct(res)
}

func (s *Server) GenerateKey(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.local.CheckToken(tokenFromContext(ctx)); err != nil {
		return nil, toStatus(err, "GenerateKey")
	}
	votingID, bits, err := generateKeyRequestFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	log.Debug().Int64("voting", votingID).Str("peer", peerAddr(ctx)).Int("bits", bits).Msg("key requested")
	pk, err := s.local.GenerateKey(ctx, votingID, bits)
	if err != nil {
		return nil, toStatus(err, "GenerateKey")
	}
	return publicKeyToStruct(pk)
}

// Serve runs the trustee gRPC service until ctx is done.
// If ready is not nil it receives the bound address once listening.
func Serve(ctx context.Context, addr string, local *Local, ready chan<- net.Addr) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("trustee listen: %w", err)
	}
	g := grpc.NewServer()
	NewServer(local).Register(g)
	if ready != nil {
		ready <- lis.Addr()
	}
	log.Info().Str("addr", lis.Addr().String()).Msg("trustee listening")
	go func() {
		<-ctx.Done()
		g.GracefulStop()
	}()
	return g.Serve(lis)
}

// Client talks to a remote trustee
type Client struct {
	conn    *grpc.ClientConn
	token   string
	timeout time.Duration
}

var (
	_ voting.Tallier   = (*Client)(nil)
	_ voting.KeyHolder = (*Client)(nil)
)

// Dial does not block, connection problems show up on the first call
func Dial(addr, token string, timeout time.Duration) (*Client, error) {
	conn, err := grpc.Dial(addr, grpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", voting.ErrTrusteeUnavailable, err)
	}
	return &Client{conn: conn, token: token, timeout: timeout}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method, token string, in, out *structpb.Struct) error {
	if token == "" {
		token = c.token
	}
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return fmt.Errorf("%w: %v", voting.ErrTrusteeUnavailable, err)
	}
	return nil
}

func (c *Client) Tally(ctx context.Context, req *voting.TallyRequest) (*voting.TallyResult, error) {
	in, err := tallyRequestToStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, methodTally, req.Token, in, out); err != nil {
		return nil, err
	}
	return tallyResultFromStruct(out)
}

func (c *Client) GenerateKey(ctx context.Context, votingID int64, bits int) (*elgamal.PublicKey, error) {
	in, err := generateKeyRequestToStruct(votingID, bits)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, methodGenerateKey, "", in, out); err != nil {
		return nil, err
	}
	return publicKeyFromStruct(out)
}
