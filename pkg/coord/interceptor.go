package coord

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const rankClaimName = "rank"

type rankClaimKey struct{}

// claimedRank is the rank the caller's token was signed for, if the call
// was authorized.
func claimedRank(ctx context.Context) (int, bool) {
	rank, ok := ctx.Value(rankClaimKey{}).(int)
	return rank, ok
}

var publicMethods = []string{
	"/" + serviceName + "/PingServer",
}

func isMethodPublic(fullMethod string) bool {
	for _, method := range publicMethods {
		if method == fullMethod {
			return true
		}
	}
	return false
}

// WorkerToken signs the token a rank presents to the lead.
func WorkerToken(secret string, rank int) (string, error) {
	claims := jwt.MapClaims{rankClaimName: rank, "iat": time.Now().Unix()}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (s *Server) unaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		if s.secret != "" && !isMethodPublic(info.FullMethod) {
			rank, err := s.authorize(ctx)
			if err != nil {
				return nil, err
			}
			ctx = context.WithValue(ctx, rankClaimKey{}, rank)
		}
		h, err := handler(ctx, req)
		if viper.GetBool("verbose") {
			log.Infof("[method: %s duration: %s]", info.FullMethod, time.Since(start))
		}
		return h, err
	}
}

func (s *Server) authorize(ctx context.Context) (int, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "retrieving metadata is failed")
	}
	authHeader, ok := md["authorization"]
	if !ok || len(authHeader) == 0 {
		return 0, status.Errorf(codes.Unauthenticated, "authorization token is not supplied")
	}
	token, err := jwt.Parse(authHeader[0], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			log.Errorf("unexpected signing method: %v", token.Header["alg"])
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.secret), nil
	})
	if err != nil {
		log.Debug(err)
		return 0, status.Errorf(codes.Unauthenticated, "error authenticate")
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if rank, ok := claims[rankClaimName].(float64); ok {
			return int(rank), nil
		}
	}
	return 0, status.Errorf(codes.Unauthenticated, "error authenticate")
}
