// fastview implements a builder pattern for simple views: given an input data format, apply a
// transformation to a view-model, multiplex that to one or more views, and publish each view's
// element updates to a websocket client.
package fastview

import (
	"context"
	"errors"

	channerics "github.com/niceyeti/channerics/channels"
)

// ViewFunc builds a view from a stream of view-models, returning the stream of its element updates.
type ViewFunc[ViewModel any] func(done <-chan struct{}, models <-chan ViewModel) <-chan []EleUpdate

type ViewBuilder[DataModel any, ViewModel any] struct {
	source      <-chan DataModel
	viewModelFn func(DataModel) ViewModel
	builderFns  []ViewFunc[ViewModel]
	done        <-chan struct{} // Okay if nil
}

func NewViewBuilder[DataModel any, ViewModel any](
	input <-chan DataModel,
) *ViewBuilder[DataModel, ViewModel] {
	return &ViewBuilder[DataModel, ViewModel]{
		source: input,
	}
}

// WithModel sets the function converting items to the view-model.
func (vb *ViewBuilder[DataModel, ViewModel]) WithModel(
	convert func(DataModel) ViewModel,
) *ViewBuilder[DataModel, ViewModel] {
	vb.viewModelFn = convert
	return vb
}

// WithView adds a view to build. Views are returned in the order they were added.
func (vb *ViewBuilder[DataModel, ViewModel]) WithView(
	builderFn ViewFunc[ViewModel],
) *ViewBuilder[DataModel, ViewModel] {
	vb.builderFns = append(vb.builderFns, builderFn)
	return vb
}

// WithContext closes all downstream channels when ctx is cancelled.
func (vb *ViewBuilder[DataModel, ViewModel]) WithContext(
	ctx context.Context,
) *ViewBuilder[DataModel, ViewModel] {
	vb.done = ctx.Done()
	return vb
}

// ErrNoViews is returned when Build() is called before the caller has added any views.
var ErrNoViews error = errors.New("no views to build: WithView must be called")

// ErrNoModel is returned when Build() is called before WithModel() has been called.
var ErrNoModel error = errors.New("no model specified: WithModel must be called")

// Build connects the source to the view-model conversion and fans it out to every view,
// returning the update streams of the views. All streams close when the source does.
func (vb *ViewBuilder[DataModel, ViewModel]) Build() (updates []<-chan []EleUpdate, err error) {
	if len(vb.builderFns) == 0 {
		return nil, ErrNoViews
	}
	if vb.viewModelFn == nil {
		return nil, ErrNoModel
	}

	vmChan := channerics.Convert(vb.done, vb.source, vb.viewModelFn)
	vmChans := channerics.Broadcast(vb.done, vmChan, len(vb.builderFns))
	for i, build := range vb.builderFns {
		updates = append(updates, build(vb.done, vmChans[i]))
	}
	return
}
