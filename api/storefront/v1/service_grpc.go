package storefrontv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	StorefrontService_PlaceOrder_FullMethodName           = "/quickart.v1.StorefrontService/PlaceOrder"
	StorefrontService_GetOrder_FullMethodName             = "/quickart.v1.StorefrontService/GetOrder"
	StorefrontService_UpdateOrderStatus_FullMethodName    = "/quickart.v1.StorefrontService/UpdateOrderStatus"
	StorefrontService_AssignDeliveryPerson_FullMethodName = "/quickart.v1.StorefrontService/AssignDeliveryPerson"
	StorefrontService_VerifyDeliveryOtp_FullMethodName    = "/quickart.v1.StorefrontService/VerifyDeliveryOtp"
	StorefrontService_ListStoreOrders_FullMethodName      = "/quickart.v1.StorefrontService/ListStoreOrders"
)

// StorefrontServiceClient — клиентский API сервиса витрины.
type StorefrontServiceClient interface {
	PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*PlaceOrderResponse, error)
	GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error)
	UpdateOrderStatus(ctx context.Context, in *UpdateOrderStatusRequest, opts ...grpc.CallOption) (*OrderResponse, error)
	AssignDeliveryPerson(ctx context.Context, in *AssignDeliveryPersonRequest, opts ...grpc.CallOption) (*OrderResponse, error)
	VerifyDeliveryOtp(ctx context.Context, in *VerifyDeliveryOtpRequest, opts ...grpc.CallOption) (*OrderResponse, error)
	ListStoreOrders(ctx context.Context, in *ListStoreOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error)
}

type storefrontServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewStorefrontServiceClient создаёт клиента. JSON content-subtype добавляется к каждому вызову.
func NewStorefrontServiceClient(cc grpc.ClientConnInterface) StorefrontServiceClient {
	return &storefrontServiceClient{cc}
}

func (c *storefrontServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, callOpts...)
}

func (c *storefrontServiceClient) PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*PlaceOrderResponse, error) {
	out := new(PlaceOrderResponse)
	if err := c.invoke(ctx, StorefrontService_PlaceOrder_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storefrontServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	out := new(GetOrderResponse)
	if err := c.invoke(ctx, StorefrontService_GetOrder_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storefrontServiceClient) UpdateOrderStatus(ctx context.Context, in *UpdateOrderStatusRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, StorefrontService_UpdateOrderStatus_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storefrontServiceClient) AssignDeliveryPerson(ctx context.Context, in *AssignDeliveryPersonRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, StorefrontService_AssignDeliveryPerson_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storefrontServiceClient) VerifyDeliveryOtp(ctx context.Context, in *VerifyDeliveryOtpRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, StorefrontService_VerifyDeliveryOtp_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storefrontServiceClient) ListStoreOrders(ctx context.Context, in *ListStoreOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	out := new(ListOrdersResponse)
	if err := c.invoke(ctx, StorefrontService_ListStoreOrders_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// StorefrontServiceServer — серверная часть сервиса витрины.
type StorefrontServiceServer interface {
	PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	UpdateOrderStatus(context.Context, *UpdateOrderStatusRequest) (*OrderResponse, error)
	AssignDeliveryPerson(context.Context, *AssignDeliveryPersonRequest) (*OrderResponse, error)
	VerifyDeliveryOtp(context.Context, *VerifyDeliveryOtpRequest) (*OrderResponse, error)
	ListStoreOrders(context.Context, *ListStoreOrdersRequest) (*ListOrdersResponse, error)
	mustEmbedUnimplementedStorefrontServiceServer()
}

// UnimplementedStorefrontServiceServer встраивается в реализации для совместимости вперёд.
type UnimplementedStorefrontServiceServer struct{}

func (UnimplementedStorefrontServiceServer) PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method PlaceOrder not implemented")
}
func (UnimplementedStorefrontServiceServer) GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetOrder not implemented")
}
func (UnimplementedStorefrontServiceServer) UpdateOrderStatus(context.Context, *UpdateOrderStatusRequest) (*OrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateOrderStatus not implemented")
}
func (UnimplementedStorefrontServiceServer) AssignDeliveryPerson(context.Context, *AssignDeliveryPersonRequest) (*OrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AssignDeliveryPerson not implemented")
}
func (UnimplementedStorefrontServiceServer) VerifyDeliveryOtp(context.Context, *VerifyDeliveryOtpRequest) (*OrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method VerifyDeliveryOtp not implemented")
}
func (UnimplementedStorefrontServiceServer) ListStoreOrders(context.Context, *ListStoreOrdersRequest) (*ListOrdersResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListStoreOrders not implemented")
}
func (UnimplementedStorefrontServiceServer) mustEmbedUnimplementedStorefrontServiceServer() {}

// RegisterStorefrontServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterStorefrontServiceServer(s grpc.ServiceRegistrar, srv StorefrontServiceServer) {
	s.RegisterService(&StorefrontService_ServiceDesc, srv)
}

func _StorefrontService_PlaceOrder_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PlaceOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorefrontServiceServer).PlaceOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorefrontService_PlaceOrder_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StorefrontServiceServer).PlaceOrder(ctx, req.(*PlaceOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorefrontService_GetOrder_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorefrontServiceServer).GetOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorefrontService_GetOrder_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StorefrontServiceServer).GetOrder(ctx, req.(*GetOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorefrontService_UpdateOrderStatus_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UpdateOrderStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorefrontServiceServer).UpdateOrderStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorefrontService_UpdateOrderStatus_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StorefrontServiceServer).UpdateOrderStatus(ctx, req.(*UpdateOrderStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorefrontService_AssignDeliveryPerson_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AssignDeliveryPersonRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorefrontServiceServer).AssignDeliveryPerson(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorefrontService_AssignDeliveryPerson_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StorefrontServiceServer).AssignDeliveryPerson(ctx, req.(*AssignDeliveryPersonRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorefrontService_VerifyDeliveryOtp_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(VerifyDeliveryOtpRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorefrontServiceServer).VerifyDeliveryOtp(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorefrontService_VerifyDeliveryOtp_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StorefrontServiceServer).VerifyDeliveryOtp(ctx, req.(*VerifyDeliveryOtpRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StorefrontService_ListStoreOrders_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListStoreOrdersRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorefrontServiceServer).ListStoreOrders(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StorefrontService_ListStoreOrders_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StorefrontServiceServer).ListStoreOrders(ctx, req.(*ListStoreOrdersRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// StorefrontService_ServiceDesc — дескриптор сервиса quickart.v1.StorefrontService.
var StorefrontService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "quickart.v1.StorefrontService",
	HandlerType: (*StorefrontServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: _StorefrontService_PlaceOrder_Handler},
		{MethodName: "GetOrder", Handler: _StorefrontService_GetOrder_Handler},
		{MethodName: "UpdateOrderStatus", Handler: _StorefrontService_UpdateOrderStatus_Handler},
		{MethodName: "AssignDeliveryPerson", Handler: _StorefrontService_AssignDeliveryPerson_Handler},
		{MethodName: "VerifyDeliveryOtp", Handler: _StorefrontService_VerifyDeliveryOtp_Handler},
		{MethodName: "ListStoreOrders", Handler: _StorefrontService_ListStoreOrders_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quickart/v1/storefront.json",
}
