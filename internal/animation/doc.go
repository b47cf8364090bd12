// Package animation drives the talking-head engines that turn a still
// portrait into a raw animated clip.
//
// Two engines are supported. SadTalker is audio-driven: the voice clip alone
// moves the mouth and head. LivePortrait is motion-driven: a reference
// performance transfers head motion and expression, and the voice clip is
// paired with the result afterwards. Both run as Python subprocesses inside
// their checkout directory; the engine is chosen once per run by New.
package animation
