/*
Package monitor watches the resource usage of live sessions.

Every interval the Monitor samples each live session through a Sampler,
with bounded concurrency, and compares the result against per-session and
aggregate ceilings for memory and CPU. Crossing a ceiling raises one
warning event and falling back under it raises one info event; nothing is
raised while usage stays on the same side. The monitor only advises: it
never pauses or closes a session.

Samples come from the rendering host over HTTP (HTTPSampler) or are pushed
by a surface as they arrive (Record). Summary reports mean and p95 over the
last Window samples.
*/
package monitor
