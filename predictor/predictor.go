// Package predictor holds the Go bindings for predictor.thrift: the
// Predictor service interface, a client, a processor for servers, and the
// argument and result structs. The layout follows what the thrift compiler
// emits so the package reads like any other generated binding, and the wire
// format is the standard binary protocol.
package predictor

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/thrift/lib/go/thrift"
)

// MethodPredict is the only RPC method.
const MethodPredict = "predict"

// Predictor is the service interface. Implementations return raw logits
// keyed by label.
type Predictor interface {
	// Parameters:
	//  - Doc
	Predict(ctx context.Context, doc string) (_r map[string]float64, _err error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(ctx context.Context, doc string) (map[string]float64, error)

// Predict implements Predictor.
func (f PredictorFunc) Predict(ctx context.Context, doc string) (map[string]float64, error) {
	return f(ctx, doc)
}

// PredictorClient calls a remote Predictor.
type PredictorClient struct {
	c    thrift.TClient
	meta thrift.ResponseMeta
}

// NewPredictorClientFactory builds a client over one transport.
func NewPredictorClientFactory(t thrift.TTransport, f thrift.TProtocolFactory) *PredictorClient {
	return &PredictorClient{
		c: thrift.NewTStandardClient(f.GetProtocol(t), f.GetProtocol(t)),
	}
}

// NewPredictorClientProtocol builds a client over explicit protocols.
func NewPredictorClientProtocol(t thrift.TTransport, iprot thrift.TProtocol, oprot thrift.TProtocol) *PredictorClient {
	return &PredictorClient{
		c: thrift.NewTStandardClient(iprot, oprot),
	}
}

// NewPredictorClient wraps an existing TClient.
func NewPredictorClient(c thrift.TClient) *PredictorClient {
	return &PredictorClient{
		c: c,
	}
}

func (p *PredictorClient) Client_() thrift.TClient {
	return p.c
}

func (p *PredictorClient) LastResponseMeta_() thrift.ResponseMeta {
	return p.meta
}

func (p *PredictorClient) SetLastResponseMeta_(meta thrift.ResponseMeta) {
	p.meta = meta
}

// Predict implements Predictor.
//
// Parameters:
//   - Doc
func (p *PredictorClient) Predict(ctx context.Context, doc string) (_r map[string]float64, _err error) {
	var _args0 PredictorPredictArgs
	_args0.Doc = doc
	var _result2 PredictorPredictResult
	var _meta1 thrift.ResponseMeta
	_meta1, _err = p.Client_().Call(ctx, MethodPredict, &_args0, &_result2)
	p.SetLastResponseMeta_(_meta1)
	if _err != nil {
		return
	}
	if _ret3 := _result2.GetSuccess(); _ret3 != nil {
		return _ret3, nil
	}
	return nil, thrift.NewTApplicationException(thrift.MISSING_RESULT, "predict failed: unknown result")
}

// PredictorProcessor dispatches incoming calls to a Predictor.
type PredictorProcessor struct {
	processorMap map[string]thrift.TProcessorFunction
	handler      Predictor
}

func (p *PredictorProcessor) AddToProcessorMap(key string, processor thrift.TProcessorFunction) {
	p.processorMap[key] = processor
}

func (p *PredictorProcessor) GetProcessorFunction(key string) (processor thrift.TProcessorFunction, ok bool) {
	processor, ok = p.processorMap[key]
	return processor, ok
}

func (p *PredictorProcessor) ProcessorMap() map[string]thrift.TProcessorFunction {
	return p.processorMap
}

// NewPredictorProcessor wires handler into a TProcessor.
func NewPredictorProcessor(handler Predictor) *PredictorProcessor {
	self4 := &PredictorProcessor{handler: handler, processorMap: make(map[string]thrift.TProcessorFunction)}
	self4.processorMap[MethodPredict] = &predictorProcessorPredict{handler: handler}
	return self4
}

func (p *PredictorProcessor) Process(ctx context.Context, iprot, oprot thrift.TProtocol) (success bool, err thrift.TException) {
	name, _, seqId, err2 := iprot.ReadMessageBegin(ctx)
	if err2 != nil {
		return false, thrift.WrapTException(err2)
	}
	if processor, ok := p.GetProcessorFunction(name); ok {
		return processor.Process(ctx, seqId, iprot, oprot)
	}
	iprot.Skip(ctx, thrift.STRUCT)
	iprot.ReadMessageEnd(ctx)
	x5 := thrift.NewTApplicationException(thrift.UNKNOWN_METHOD, "Unknown function "+name)
	oprot.WriteMessageBegin(ctx, name, thrift.EXCEPTION, seqId)
	x5.Write(ctx, oprot)
	oprot.WriteMessageEnd(ctx)
	oprot.Flush(ctx)
	return false, x5
}

type predictorProcessorPredict struct {
	handler Predictor
}

func (p *predictorProcessorPredict) Process(ctx context.Context, seqId int32, iprot, oprot thrift.TProtocol) (success bool, err thrift.TException) {
	var _write_err6 error
	args := PredictorPredictArgs{}
	if err2 := args.Read(ctx, iprot); err2 != nil {
		iprot.ReadMessageEnd(ctx)
		x := thrift.NewTApplicationException(thrift.PROTOCOL_ERROR, err2.Error())
		oprot.WriteMessageBegin(ctx, MethodPredict, thrift.EXCEPTION, seqId)
		x.Write(ctx, oprot)
		oprot.WriteMessageEnd(ctx)
		oprot.Flush(ctx)
		return false, thrift.WrapTException(err2)
	}
	iprot.ReadMessageEnd(ctx)

	result := PredictorPredictResult{}
	retval, err2 := p.handler.Predict(ctx, args.Doc)
	if err2 != nil {
		if errors.Is(err2, thrift.ErrAbandonRequest) {
			return false, thrift.WrapTException(err2)
		}
		_exc7 := thrift.NewTApplicationException(thrift.INTERNAL_ERROR, "Internal error processing predict: "+err2.Error())
		if err2 := oprot.WriteMessageBegin(ctx, MethodPredict, thrift.EXCEPTION, seqId); err2 != nil {
			_write_err6 = thrift.WrapTException(err2)
		}
		if err2 := _exc7.Write(ctx, oprot); _write_err6 == nil && err2 != nil {
			_write_err6 = thrift.WrapTException(err2)
		}
		if err2 := oprot.WriteMessageEnd(ctx); _write_err6 == nil && err2 != nil {
			_write_err6 = thrift.WrapTException(err2)
		}
		if err2 := oprot.Flush(ctx); _write_err6 == nil && err2 != nil {
			_write_err6 = thrift.WrapTException(err2)
		}
		if _write_err6 != nil {
			return false, thrift.WrapTException(_write_err6)
		}
		return true, thrift.WrapTException(err2)
	}
	result.Success = retval
	if err2 := oprot.WriteMessageBegin(ctx, MethodPredict, thrift.REPLY, seqId); err2 != nil {
		_write_err6 = thrift.WrapTException(err2)
	}
	if err2 := result.Write(ctx, oprot); _write_err6 == nil && err2 != nil {
		_write_err6 = thrift.WrapTException(err2)
	}
	if err2 := oprot.WriteMessageEnd(ctx); _write_err6 == nil && err2 != nil {
		_write_err6 = thrift.WrapTException(err2)
	}
	if err2 := oprot.Flush(ctx); _write_err6 == nil && err2 != nil {
		_write_err6 = thrift.WrapTException(err2)
	}
	if _write_err6 != nil {
		return false, thrift.WrapTException(_write_err6)
	}
	return true, err
}

// HELPER FUNCTIONS AND STRUCTURES

// Attributes:
//   - Doc
type PredictorPredictArgs struct {
	Doc string `thrift:"doc,1" db:"doc" json:"doc"`
}

func NewPredictorPredictArgs() *PredictorPredictArgs {
	return &PredictorPredictArgs{}
}

func (p *PredictorPredictArgs) GetDoc() string {
	return p.Doc
}

func (p *PredictorPredictArgs) Read(ctx context.Context, iprot thrift.TProtocol) error {
	if _, err := iprot.ReadStructBegin(ctx); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T read error: ", p), err)
	}

	for {
		_, fieldTypeId, fieldId, err := iprot.ReadFieldBegin(ctx)
		if err != nil {
			return thrift.PrependError(fmt.Sprintf("%T field %d read error: ", p, fieldId), err)
		}
		if fieldTypeId == thrift.STOP {
			break
		}
		switch fieldId {
		case 1:
			if fieldTypeId == thrift.STRING {
				if err := p.ReadField1(ctx, iprot); err != nil {
					return err
				}
			} else {
				if err := iprot.Skip(ctx, fieldTypeId); err != nil {
					return err
				}
			}
		default:
			if err := iprot.Skip(ctx, fieldTypeId); err != nil {
				return err
			}
		}
		if err := iprot.ReadFieldEnd(ctx); err != nil {
			return err
		}
	}
	if err := iprot.ReadStructEnd(ctx); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T read struct end error: ", p), err)
	}
	return nil
}

func (p *PredictorPredictArgs) ReadField1(ctx context.Context, iprot thrift.TProtocol) error {
	if v, err := iprot.ReadString(ctx); err != nil {
		return thrift.PrependError("error reading field 1: ", err)
	} else {
		p.Doc = v
	}
	return nil
}

func (p *PredictorPredictArgs) Write(ctx context.Context, oprot thrift.TProtocol) error {
	if err := oprot.WriteStructBegin(ctx, "predict_args"); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T write struct begin error: ", p), err)
	}
	if p != nil {
		if err := p.writeField1(ctx, oprot); err != nil {
			return err
		}
	}
	if err := oprot.WriteFieldStop(ctx); err != nil {
		return thrift.PrependError("write field stop error: ", err)
	}
	if err := oprot.WriteStructEnd(ctx); err != nil {
		return thrift.PrependError("write struct stop error: ", err)
	}
	return nil
}

func (p *PredictorPredictArgs) writeField1(ctx context.Context, oprot thrift.TProtocol) (err error) {
	if err := oprot.WriteFieldBegin(ctx, "doc", thrift.STRING, 1); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T write field begin error 1:doc: ", p), err)
	}
	if err := oprot.WriteString(ctx, string(p.Doc)); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T.doc (1) field write error: ", p), err)
	}
	if err := oprot.WriteFieldEnd(ctx); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T write field end error 1:doc: ", p), err)
	}
	return err
}

func (p *PredictorPredictArgs) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("PredictorPredictArgs(%+v)", *p)
}

// Attributes:
//   - Success
type PredictorPredictResult struct {
	Success map[string]float64 `thrift:"success,0" db:"success" json:"success,omitempty"`
}

func NewPredictorPredictResult() *PredictorPredictResult {
	return &PredictorPredictResult{}
}

var PredictorPredictResult_Success_DEFAULT map[string]float64

func (p *PredictorPredictResult) GetSuccess() map[string]float64 {
	return p.Success
}

func (p *PredictorPredictResult) IsSetSuccess() bool {
	return p.Success != nil
}

func (p *PredictorPredictResult) Read(ctx context.Context, iprot thrift.TProtocol) error {
	if _, err := iprot.ReadStructBegin(ctx); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T read error: ", p), err)
	}

	for {
		_, fieldTypeId, fieldId, err := iprot.ReadFieldBegin(ctx)
		if err != nil {
			return thrift.PrependError(fmt.Sprintf("%T field %d read error: ", p, fieldId), err)
		}
		if fieldTypeId == thrift.STOP {
			break
		}
		switch fieldId {
		case 0:
			if fieldTypeId == thrift.MAP {
				if err := p.ReadField0(ctx, iprot); err != nil {
					return err
				}
			} else {
				if err := iprot.Skip(ctx, fieldTypeId); err != nil {
					return err
				}
			}
		default:
			if err := iprot.Skip(ctx, fieldTypeId); err != nil {
				return err
			}
		}
		if err := iprot.ReadFieldEnd(ctx); err != nil {
			return err
		}
	}
	if err := iprot.ReadStructEnd(ctx); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T read struct end error: ", p), err)
	}
	return nil
}

func (p *PredictorPredictResult) ReadField0(ctx context.Context, iprot thrift.TProtocol) error {
	_, _, size, err := iprot.ReadMapBegin(ctx)
	if err != nil {
		return thrift.PrependError("error reading map begin: ", err)
	}
	tMap := make(map[string]float64, size)
	p.Success = tMap
	for i := 0; i < size; i++ {
		var _key8 string
		if v, err := iprot.ReadString(ctx); err != nil {
			return thrift.PrependError("error reading field 0: ", err)
		} else {
			_key8 = v
		}
		var _val9 float64
		if v, err := iprot.ReadDouble(ctx); err != nil {
			return thrift.PrependError("error reading field 0: ", err)
		} else {
			_val9 = v
		}
		p.Success[_key8] = _val9
	}
	if err := iprot.ReadMapEnd(ctx); err != nil {
		return thrift.PrependError("error reading map end: ", err)
	}
	return nil
}

func (p *PredictorPredictResult) Write(ctx context.Context, oprot thrift.TProtocol) error {
	if err := oprot.WriteStructBegin(ctx, "predict_result"); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T write struct begin error: ", p), err)
	}
	if p != nil {
		if err := p.writeField0(ctx, oprot); err != nil {
			return err
		}
	}
	if err := oprot.WriteFieldStop(ctx); err != nil {
		return thrift.PrependError("write field stop error: ", err)
	}
	if err := oprot.WriteStructEnd(ctx); err != nil {
		return thrift.PrependError("write struct stop error: ", err)
	}
	return nil
}

func (p *PredictorPredictResult) writeField0(ctx context.Context, oprot thrift.TProtocol) (err error) {
	if p.IsSetSuccess() {
		if err := oprot.WriteFieldBegin(ctx, "success", thrift.MAP, 0); err != nil {
			return thrift.PrependError(fmt.Sprintf("%T write field begin error 0:success: ", p), err)
		}
		if err := oprot.WriteMapBegin(ctx, thrift.STRING, thrift.DOUBLE, len(p.Success)); err != nil {
			return thrift.PrependError("error writing map begin: ", err)
		}
		for k, v := range p.Success {
			if err := oprot.WriteString(ctx, string(k)); err != nil {
				return thrift.PrependError(fmt.Sprintf("%T. (0) field write error: ", p), err)
			}
			if err := oprot.WriteDouble(ctx, float64(v)); err != nil {
				return thrift.PrependError(fmt.Sprintf("%T. (0) field write error: ", p), err)
			}
		}
		if err := oprot.WriteMapEnd(ctx); err != nil {
			return thrift.PrependError("error writing map end: ", err)
		}
		if err := oprot.WriteFieldEnd(ctx); err != nil {
			return thrift.PrependError(fmt.Sprintf("%T write field end error 0:success: ", p), err)
		}
	}
	return err
}

func (p *PredictorPredictResult) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("PredictorPredictResult(%+v)", *p)
}
