package grpcclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/faceid/internal/face"
	"github.com/example/faceid/internal/imagecodec"
)

// The face model service exchanges google.protobuf.Struct messages:
//
//	DetectFaces      {width, height, pixels}          -> {faces: [{left, top, width, height}]}
//	ExtractEmbedding {width, height, pixels, region}  -> {embedding: [float]}
//
// pixels is the base64 encoded RGB grid, row-major, so a request costs about
// four bytes per pixel. Both ends must raise gRPC's 4 MiB default: clients dial
// with MaxMessageSize and model servers start with ServerOptions, using the
// same MessageSizeFor(maxPixels) value.
const (
	serviceName            = "faceid.model.v1.FaceModel"
	detectFacesMethod      = "/" + serviceName + "/DetectFaces"
	extractEmbeddingMethod = "/" + serviceName + "/ExtractEmbedding"
)

// DefaultMaxMessageSize carries a grid of imagecodec.DefaultMaxPixels.
var DefaultMaxMessageSize = MessageSizeFor(imagecodec.DefaultMaxPixels)

// MessageSizeFor returns the message size needed for a grid of maxPixels,
// with headroom for the region and framing.
func MessageSizeFor(maxPixels int) int {
	return maxPixels*4 + 1<<20
}

// MaxMessageSize raises the client's send and receive limits to n bytes.
func MaxMessageSize(n int) grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(n), grpc.MaxCallRecvMsgSize(n))
}

// ServerOptions are the limits a model server needs to accept n byte requests.
func ServerOptions(n int) []grpc.ServerOption {
	return []grpc.ServerOption{grpc.MaxRecvMsgSize(n), grpc.MaxSendMsgSize(n)}
}

// FaceModelServer is implemented by model backends and test fakes.
type FaceModelServer interface {
	DetectFaces(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ExtractEmbedding(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var faceModelServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FaceModelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DetectFaces", Handler: detectFacesHandler},
		{MethodName: "ExtractEmbedding", Handler: extractEmbeddingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "faceid/model/v1/face_model.proto",
}

// RegisterFaceModelServer registers srv on s.
func RegisterFaceModelServer(s grpc.ServiceRegistrar, srv FaceModelServer) {
	s.RegisterService(&faceModelServiceDesc, srv)
}

func detectFacesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FaceModelServer).DetectFaces(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: detectFacesMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FaceModelServer).DetectFaces(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func extractEmbeddingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FaceModelServer).ExtractEmbedding(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: extractEmbeddingMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FaceModelServer).ExtractEmbedding(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GridMessage encodes a grid, plus an optional region, as a request message.
func GridMessage(grid *face.PixelGrid, region *face.Region) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"width":  grid.Width,
		"height": grid.Height,
		"pixels": base64.StdEncoding.EncodeToString(grid.Pix),
	}
	if region != nil {
		fields["region"] = regionFields(*region)
	}
	return structpb.NewStruct(fields)
}

// GridFromMessage is the inverse of GridMessage.
func GridFromMessage(msg *structpb.Struct) (*face.PixelGrid, *face.Region, error) {
	f := msg.GetFields()
	w := int(f["width"].GetNumberValue())
	h := int(f["height"].GetNumberValue())
	pix, err := base64.StdEncoding.DecodeString(f["pixels"].GetStringValue())
	if err != nil {
		return nil, nil, fmt.Errorf("invalid pixels: %w", err)
	}
	if w <= 0 || h <= 0 || len(pix) != w*h*3 {
		return nil, nil, errors.New("pixel buffer does not match dimensions")
	}
	grid := &face.PixelGrid{Width: w, Height: h, Pix: pix}

	rv, ok := f["region"]
	if !ok {
		return grid, nil, nil
	}
	r := regionFromStruct(rv.GetStructValue())
	return grid, &r, nil
}

// RegionsMessage builds a DetectFaces response.
func RegionsMessage(regions []face.Region) (*structpb.Struct, error) {
	list := make([]interface{}, 0, len(regions))
	for _, r := range regions {
		list = append(list, regionFields(r))
	}
	return structpb.NewStruct(map[string]interface{}{"faces": list})
}

// EmbeddingMessage builds an ExtractEmbedding response.
func EmbeddingMessage(e face.Embedding) (*structpb.Struct, error) {
	list := make([]interface{}, 0, len(e))
	for _, v := range e {
		list = append(list, v)
	}
	return structpb.NewStruct(map[string]interface{}{"embedding": list})
}

func regionFields(r face.Region) map[string]interface{} {
	return map[string]interface{}{
		"left":   r.Left,
		"top":    r.Top,
		"width":  r.Width,
		"height": r.Height,
	}
}

func regionFromStruct(s *structpb.Struct) face.Region {
	f := s.GetFields()
	return face.Region{
		Left:   int(f["left"].GetNumberValue()),
		Top:    int(f["top"].GetNumberValue()),
		Width:  int(f["width"].GetNumberValue()),
		Height: int(f["height"].GetNumberValue()),
	}
}

func regionsFromMessage(msg *structpb.Struct) []face.Region {
	values := msg.GetFields()["faces"].GetListValue().GetValues()
	regions := make([]face.Region, 0, len(values))
	for _, v := range values {
		regions = append(regions, regionFromStruct(v.GetStructValue()))
	}
	return regions
}

func embeddingFromMessage(msg *structpb.Struct) face.Embedding {
	values := msg.GetFields()["embedding"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	e := make(face.Embedding, len(values))
	for i, v := range values {
		e[i] = v.GetNumberValue()
	}
	return e
}
